package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jacentio/catalog/errs"
	"github.com/jacentio/catalog/store"
	"github.com/jacentio/catalog/vocab"
)

// VocabularyEntity is the reserved entity name under which curated
// vocabulary members added at runtime are stored. Rows are keyed by
// (vocabulary, value).
const VocabularyEntity = "_vocabulary"

// AddVocabularyMember adds m to the curated lookup name and persists it, so
// RestoreVocabularies can reload it after a restart. Member attributes are
// checked against the ones the vocabulary declares.
func (c *Catalog) AddVocabularyMember(ctx context.Context, name string, m vocab.Member) error {
	err := c.write(ctx, "vocab_add", []string{VocabularyEntity}, nil, func(ctx context.Context, log *slog.Logger) error {
		m, err := c.vocabs.Prepare(name, m)
		if err != nil {
			return err
		}

		row := vocabularyRow(name, m)
		err = store.RunInTransaction(ctx, c.store, store.TxOptions{}, func(tx store.Tx) error {
			if err := tx.Put(ctx, row); err != nil {
				if errors.Is(err, store.ErrAlreadyExists) {
					return errs.New(errs.ErrDuplicateKey, name, "member %q already exists", m.Value).WithKey(row.Key)
				}
				return err
			}
			return nil
		})
		if err != nil {
			return err
		}
		if err := c.vocabs.Add(name, m); err != nil {
			return err
		}
		log.InfoContext(ctx, "vocabulary member added", "vocabulary", name, "value", m.Value)
		return nil
	})
	c.metrics.wrote(VocabularyEntity, "insert", err)
	return err
}

// RestoreVocabularies loads persisted members into the vocabulary registry.
// Members the registry already holds are skipped. It returns the number of
// members added.
func (c *Catalog) RestoreVocabularies(ctx context.Context) (int, error) {
	var rows []store.Row
	err := store.RunInTransaction(ctx, c.store, store.TxOptions{ReadOnly: true}, func(tx store.Tx) error {
		var err error
		rows, err = tx.Scan(ctx, VocabularyEntity, nil)
		return err
	})
	if err != nil {
		return 0, err
	}

	added := 0
	for _, row := range rows {
		name, m, err := memberFromRow(row)
		if err != nil {
			return added, err
		}
		if _, found, err := c.vocabs.Member(name, m.Value); err != nil {
			return added, err
		} else if found {
			continue
		}
		if err := c.vocabs.Add(name, m); err != nil {
			return added, err
		}
		added++
	}
	if added > 0 {
		c.logger.InfoContext(ctx, "vocabulary members restored", "members", added)
	}
	return added, nil
}

func vocabularyRow(name string, m vocab.Member) store.Row {
	attrs := map[string]any{"vocabulary": name, "value": m.Value, "attrs": nil}
	if len(m.Attrs) > 0 {
		attrs["attrs"] = m.Attrs
	}
	return store.Row{Entity: VocabularyEntity, Key: store.Key{name, m.Value}, Attrs: attrs}
}

func memberFromRow(row store.Row) (string, vocab.Member, error) {
	if len(row.Key) != 2 {
		return "", vocab.Member{}, fmt.Errorf("catalog: vocabulary row %s: malformed key", row.Key)
	}
	m := vocab.Member{Value: row.Key[1]}
	if a, ok := row.Attrs["attrs"].(map[string]any); ok && len(a) > 0 {
		m.Attrs = a
	}
	return row.Key[0], m, nil
}
