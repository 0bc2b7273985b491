package provision

// Event is a lifecycle event reported by an Installer. The set is closed;
// the progress translator switches over every kind.
type Event interface {
	installEvent()
}

// Watcher receives installer events. Installers call it from one goroutine
// at a time. A non-nil error aborts the install and must be returned by the
// Installer unchanged.
type Watcher func(Event) error

type (
	VersionLoading  struct{ Version string }
	VersionFetching struct{ Version string }
	VersionLoaded   struct {
		Version string
		Fetched bool
	}

	JvmLoading struct{ Version string }
	JvmLoaded  struct {
		Kind    string
		Version string
	}

	JarFound      struct{ Version string }
	AssetsResolve struct {
		Index string
		Count int
	}

	LibrariesResolving struct{ Version string }
	LibrariesResolved  struct{ Count int }
	LoggerFound        struct{ Version string }

	LoaderResolve struct {
		Loader  string
		Version string
	}

	ForgeResolve        struct{ Version string }
	ForgePostProcessing struct{ Task string }
	ForgePostProcessed  struct{}

	// DownloadStart opens a batch of Entries files totalling Size bytes,
	// fetched by Threads workers.
	DownloadStart struct {
		Entries int
		Size    int64
		Threads int
	}

	// DownloadProgress is reported by worker ThreadID. Count is the number
	// of finished entries across all workers, Size the bytes this worker has
	// written in the batch, Speed its current rate in bytes per second.
	DownloadProgress struct {
		ThreadID int
		Count    int
		Entry    string
		Size     int64
		Speed    float64
		Done     bool
	}

	DownloadComplete struct{}
)

func (VersionLoading) installEvent()      {}
func (VersionFetching) installEvent()     {}
func (VersionLoaded) installEvent()       {}
func (JvmLoading) installEvent()          {}
func (JvmLoaded) installEvent()           {}
func (JarFound) installEvent()            {}
func (AssetsResolve) installEvent()       {}
func (LibrariesResolving) installEvent()  {}
func (LibrariesResolved) installEvent()   {}
func (LoggerFound) installEvent()         {}
func (LoaderResolve) installEvent()       {}
func (ForgeResolve) installEvent()        {}
func (ForgePostProcessing) installEvent() {}
func (ForgePostProcessed) installEvent()  {}
func (DownloadStart) installEvent()       {}
func (DownloadProgress) installEvent()    {}
func (DownloadComplete) installEvent()    {}
