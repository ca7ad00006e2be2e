package catalog_test

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jacentio/catalog/catalog"
	"github.com/jacentio/catalog/labschema"
	"github.com/jacentio/catalog/store"
	"github.com/jacentio/catalog/store/memory"
)

const t1 = "2024-03-01T09:30:00Z"

func newCatalog(t *testing.T, s store.Store, opts ...catalog.Option) *catalog.Catalog {
	t.Helper()
	reg, vocabs, err := labschema.Load()
	require.NoError(t, err)
	if s == nil {
		s = memory.New()
	}
	opts = append([]catalog.Option{catalog.WithLogger(slog.New(slog.DiscardHandler))}, opts...)
	return catalog.New(reg, vocabs, s, opts...)
}

// seeded returns a catalog holding the reference rows the experiment
// tables point at: lab member alice, genotype mouse/WT, ScapeConfig cfg1
// with cameras cam1 and cam2, tube lens tl1 and filter f1.
func seeded(t *testing.T, s store.Store, opts ...catalog.Option) *catalog.Catalog {
	t.Helper()
	c := newCatalog(t, s, opts...)
	ctx := context.Background()

	mustInsert(t, c, "LabMember", map[string]any{"user": "alice"})
	mustInsert(t, c, "Genotype", map[string]any{
		"species": "mouse", "genotype_nickname": "WT", "genotype_fullname": "wild type",
	})
	mustInsert(t, c, "TubeLens", map[string]any{"tubelens": "tl1", "tubelens_focal_length": 200})
	mustInsert(t, c, "Filter", map[string]any{"filter": "f1"})
	_, err := c.CommitMasterWithParts(ctx,
		catalog.Input{Entity: "ScapeConfig", Attrs: map[string]any{"scape_config": "cfg1"}},
		[]catalog.Input{
			{Entity: "ScapeConfig.Camera", Attrs: map[string]any{"scape_config": "cfg1", "camera": "cam1"}},
			{Entity: "ScapeConfig.Camera", Attrs: map[string]any{"scape_config": "cfg1", "camera": "cam2"}},
		})
	require.NoError(t, err)
	return c
}

func mustInsert(t *testing.T, c *catalog.Catalog, entity string, attrs map[string]any) store.Key {
	t.Helper()
	key, err := c.Insert(context.Background(), entity, attrs)
	require.NoError(t, err)
	return key
}

func specimen(id string) map[string]any {
	return map[string]any{"specimen": id, "species": "mouse", "source": "alice"}
}

func session(id string) map[string]any {
	return map[string]any{
		"specimen":           id,
		"session_start_time": "2024-03-01 09:30:00",
		"data_directory":     "/data/" + id,
		"backup_location":    "GOAT_BACKUP_10",
		"organ":              "brain",
	}
}

func scan(id, name string) map[string]any {
	return map[string]any{
		"specimen":           id,
		"session_start_time": t1,
		"scan_name":          name,
		"scape_config":       "cfg1",
		"scan_filename":      name + ".h5",
		"scan_start_time":    "2024-03-01T09:45:00Z",
	}
}

func cameraParam(id, scanName, camera string) map[string]any {
	return map[string]any{
		"specimen":             id,
		"session_start_time":   t1,
		"scan_name":            scanName,
		"scape_config":         "cfg1",
		"camera":               camera,
		"tubelens":             "tl1",
		"camera_fps":           50,
		"camera_series_length": 1000,
		"camera_height":        512,
		"camera_width":         640,
	}
}

func caliFactor(id, scanName string) map[string]any {
	return map[string]any{
		"specimen":           id,
		"session_start_time": t1,
		"scan_name":          scanName,
		"calibration_xk":     1.25,
		"calibration_x":      0.5,
		"calibration_y":      0.5,
		"calibration_z":      1,
	}
}

// commitScan inserts specimen id, its session and scan scanName with two
// camera parameter parts and a calibration part.
func commitScan(t *testing.T, c *catalog.Catalog, id, scanName string) store.Key {
	t.Helper()
	mustInsert(t, c, "Specimen", specimen(id))
	mustInsert(t, c, "Session", session(id))
	key, err := c.CommitMasterWithParts(context.Background(),
		catalog.Input{Entity: "Scan", Attrs: scan(id, scanName)},
		[]catalog.Input{
			{Entity: "Scan.CameraParam", Attrs: cameraParam(id, scanName, "cam1")},
			{Entity: "Scan.CameraParam", Attrs: cameraParam(id, scanName, "cam2")},
			{Entity: "Scan.CaliFactor", Attrs: caliFactor(id, scanName)},
		})
	require.NoError(t, err)
	return key
}

// faultyStore fails write commits with the queued errors, in order.
type faultyStore struct {
	store.Store

	mu      sync.Mutex
	errs    []error
	commits int
}

func (f *faultyStore) failNext(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = append(f.errs, errs...)
}

func (f *faultyStore) next() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits++
	if len(f.errs) == 0 {
		return nil
	}
	err := f.errs[0]
	f.errs = f.errs[1:]
	return err
}

func (f *faultyStore) Begin(ctx context.Context, opts store.TxOptions) (store.Tx, error) {
	tx, err := f.Store.Begin(ctx, opts)
	if err != nil || opts.ReadOnly {
		return tx, err
	}
	return &faultyTx{Tx: tx, s: f}, nil
}

type faultyTx struct {
	store.Tx
	s *faultyStore
}

func (t *faultyTx) Commit(ctx context.Context) error {
	if err := t.s.next(); err != nil {
		return err
	}
	return t.Tx.Commit(ctx)
}
