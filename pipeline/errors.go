package pipeline

import "errors"

var (
	// ErrClientRequired is returned when an upstream client is not provided.
	ErrClientRequired = errors.New("upstream client required")

	// ErrExtractorRequired is returned when an extractor is not provided.
	ErrExtractorRequired = errors.New("extractor required")

	// ErrCacheRequired is returned when a response cache is not provided.
	ErrCacheRequired = errors.New("response cache required")

	// ErrStoreRequired is returned when a store is not provided.
	ErrStoreRequired = errors.New("store required")

	// ErrSelectorRequired is returned when a selection engine is not provided.
	ErrSelectorRequired = errors.New("selection engine required")

	// ErrDownloaderRequired is returned when a downloader is not provided.
	ErrDownloaderRequired = errors.New("downloader required")

	// ErrStageNameRequired is returned when a stage is registered without a name.
	ErrStageNameRequired = errors.New("stage name required")

	// ErrStageRunRequired is returned when a stage is registered without a run function.
	ErrStageRunRequired = errors.New("stage run function required")

	// ErrStageExists is returned when a stage name is registered twice.
	ErrStageExists = errors.New("stage already registered")

	// ErrUnknownDependency is returned when a stage depends on an unregistered stage.
	ErrUnknownDependency = errors.New("unknown dependency")
)
