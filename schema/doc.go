// Package schema resolves entity type declarations into a registry of
// composite-key entity types.
//
// A [Declaration] names its local attributes and its references
// ([ForeignKeyEdge]) to other types. Registration resolves every reference
// against already registered types, so the dependency graph is acyclic by
// construction; [Registry.RegisterAll] accepts declarations in any order and
// sorts them first, reporting cycles.
//
// # Keys
//
// Each registered [EntityType] carries its full key layout, computed once:
//
//  1. a part type inherits its master's full key,
//  2. each key reference contributes the target's full key, renamed through
//     the reference (e.g. source=user), skipping names already present,
//  3. local key attributes follow in declaration order.
//
// Nullable references never contribute key segments.
//
// # Domains
//
// Attribute types use a compact notation:
//
//	varchar(32)  smallint unsigned  decimal(7,2)  datetime  date  bool
//	enum('larva','adult')  longblob  vocab(species)
//
// vocab(name) draws values from a vocabulary held by package vocab.
package schema
