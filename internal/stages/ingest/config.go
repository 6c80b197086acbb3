// internal/stages/ingest/config.go
package ingest

// Config is built by the caller from the pipeline configuration.
type Config struct {
	// MaxRows caps the dataset size; 0 means unlimited.
	MaxRows int
}
