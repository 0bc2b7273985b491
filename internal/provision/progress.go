package provision

import (
	"fmt"

	"github.com/dustin/go-humanize"
)

// Observer is the progress sink driven by provisioning and content sync.
// Implementations must be cheap; download progress arrives many times per
// second.
type Observer interface {
	UpdateTitle(text string)
	UpdateItem(text string)
	ResetProgress()
	SetIndeterminate()
	UpdateProgress(fraction float64)
}

// NopObserver discards progress.
type NopObserver struct{}

func (NopObserver) UpdateTitle(string)     {}
func (NopObserver) UpdateItem(string)      {}
func (NopObserver) ResetProgress()         {}
func (NopObserver) SetIndeterminate()      {}
func (NopObserver) UpdateProgress(float64) {}

// translator turns installer events into observer calls. It keeps the last
// byte count and speed reported by every download worker and shows their sums.
type translator struct {
	obs     Observer
	entries int
	sizes   map[int]int64
	speeds  map[int]float64
}

func newTranslator(obs Observer) *translator {
	return &translator{
		obs:    obs,
		sizes:  make(map[int]int64),
		speeds: make(map[int]float64),
	}
}

func (t *translator) handle(ev Event) {
	switch e := ev.(type) {
	case VersionLoading:
		t.obs.UpdateTitle("Loading version " + e.Version)
	case VersionFetching:
		t.obs.UpdateTitle("Fetching version " + e.Version)
	case VersionLoaded:
		if e.Fetched {
			t.obs.UpdateTitle("Fetched version " + e.Version)
		} else {
			t.obs.UpdateTitle("Loaded version " + e.Version)
		}
	case JvmLoading:
		t.obs.UpdateTitle("Loading Java runtime")
	case JvmLoaded:
		t.obs.UpdateItem(fmt.Sprintf("Java %s %s", e.Kind, e.Version))
	case JarFound:
		t.obs.UpdateItem("Found game jar " + e.Version)
	case AssetsResolve:
		t.obs.UpdateTitle("Resolving assets")
		t.obs.UpdateItem(fmt.Sprintf("Asset index %s (%d objects)", e.Index, e.Count))
	case LibrariesResolving:
		t.obs.UpdateTitle("Resolving libraries")
	case LibrariesResolved:
		t.obs.UpdateItem(fmt.Sprintf("Resolved %d libraries", e.Count))
	case LoggerFound:
		t.obs.UpdateItem("Found logger configuration")
	case LoaderResolve:
		t.obs.UpdateTitle(fmt.Sprintf("Resolving %s loader %s", e.Loader, e.Version))
	case ForgeResolve:
		t.obs.UpdateTitle("Resolving Forge " + e.Version)
	case ForgePostProcessing:
		t.obs.SetIndeterminate()
		t.obs.UpdateItem("Post Processing: " + e.Task)
	case ForgePostProcessed:
		t.obs.UpdateItem("Post Processing Complete")
	case DownloadStart:
		t.entries = e.Entries
		clear(t.sizes)
		clear(t.speeds)
		t.obs.ResetProgress()
		t.obs.UpdateTitle(fmt.Sprintf("Downloading %d files (%s)", e.Entries, humanize.Bytes(uint64(max(e.Size, 0)))))
	case DownloadProgress:
		t.sizes[e.ThreadID] = e.Size
		t.speeds[e.ThreadID] = e.Speed
		t.obs.UpdateItem(t.throughput())
		if t.entries > 0 {
			t.obs.UpdateProgress(float64(e.Count) / float64(t.entries))
		}
	case DownloadComplete:
		t.obs.UpdateItem("Download Complete")
		t.obs.SetIndeterminate()
	}
}

func (t *translator) throughput() string {
	var size int64
	var speed float64
	for _, s := range t.sizes {
		size += s
	}
	for _, s := range t.speeds {
		speed += s
	}
	return fmt.Sprintf("Total Downloaded: %s - %s/s", humanize.Bytes(uint64(size)), humanize.Bytes(uint64(speed)))
}
