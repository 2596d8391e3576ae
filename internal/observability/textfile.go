package observability

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// WritePrometheusTextfile gathers g and writes the text exposition format to
// path. The file is replaced atomically.
func WritePrometheusTextfile(path string, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create metrics file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(tmp, mf); err != nil {
			_ = tmp.Close()
			return fmt.Errorf("encode %s: %w", mf.GetName(), err)
		}
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close metrics file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("install metrics file: %w", err)
	}
	return nil
}
