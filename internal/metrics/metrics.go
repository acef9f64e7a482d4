// Package metrics exposes grid, index, mirror and observer statistics to
// Prometheus. Values are read from the sources at scrape time.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"tis3d.dev/internal/persistence/indexdb"
	"tis3d.dev/internal/persistence/mirror"
	"tis3d.dev/internal/sim/grid"
	"tis3d.dev/internal/transport/ws"
)

const namespace = "tis3d"

// controllerStates are always reported so a state that empties reads 0
// instead of vanishing.
var controllerStates = []string{"SCANNING", "VALID", "ERROR"}

// Sources are polled on every scrape. Nil sources are skipped.
type Sources struct {
	Grid      func() grid.Metrics
	Index     func() indexdb.Stats
	Mirror    func() mirror.Stats
	Observers func() ws.Stats
}

type Collector struct {
	src Sources

	tick            *prometheus.Desc
	casings         *prometheus.Desc
	enabledCasings  *prometheus.Desc
	controllers     *prometheus.Desc
	packets         *prometheus.Desc
	packetsTotal    *prometheus.Desc
	lookupsTotal    *prometheus.Desc
	redstoneTotal   *prometheus.Desc
	unloadedRegions *prometheus.Desc
	stepMS          *prometheus.Desc

	indexQueueDepth    *prometheus.Desc
	indexQueueCapacity *prometheus.Desc
	indexDroppedTotal  *prometheus.Desc

	mirrorQueueDepth     *prometheus.Desc
	mirrorQueueCapacity  *prometheus.Desc
	mirrorEnqueuedTotal  *prometheus.Desc
	mirrorSaturatedTotal *prometheus.Desc
	mirrorDroppedTotal   *prometheus.Desc
	mirrorUploadsTotal   *prometheus.Desc
	mirrorLastSuccess    *prometheus.Desc
	mirrorLastError      *prometheus.Desc

	observerClients  *prometheus.Desc
	observerMessages *prometheus.Desc
}

func desc(subsystem, name, help string, labels ...string) *prometheus.Desc {
	return prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, name), help, labels, nil)
}

func NewCollector(src Sources) *Collector {
	return &Collector{
		src: src,

		tick:            desc("grid", "tick", "Last completed grid tick."),
		casings:         desc("grid", "casings", "Loaded casings."),
		enabledCasings:  desc("grid", "casings_enabled", "Loaded casings that are enabled."),
		controllers:     desc("grid", "controllers", "Loaded controllers by scheduler state.", "state"),
		packets:         desc("grid", "infrared_packets", "Infrared packets in flight."),
		packetsTotal:    desc("grid", "infrared_packets_total", "Infrared packet outcomes.", "outcome"),
		lookupsTotal:    desc("grid", "lookups_resolved_total", "Casing-side controller lookups resolved."),
		redstoneTotal:   desc("grid", "redstone_updates_total", "Redstone input changes applied."),
		unloadedRegions: desc("grid", "unloaded_regions", "Regions currently unloaded."),
		stepMS:          desc("grid", "step_ms", "Duration of the last tick step in milliseconds."),

		indexQueueDepth:    desc("index", "queue_depth", "Index writer queue depth."),
		indexQueueCapacity: desc("index", "queue_capacity", "Index writer queue capacity."),
		indexDroppedTotal:  desc("index", "dropped_total", "Index records dropped because the queue was full.", "kind"),

		mirrorQueueDepth:     desc("mirror", "queue_depth", "Snapshot mirror queue depth."),
		mirrorQueueCapacity:  desc("mirror", "queue_capacity", "Snapshot mirror queue capacity."),
		mirrorEnqueuedTotal:  desc("mirror", "enqueued_total", "Files offered to the mirror."),
		mirrorSaturatedTotal: desc("mirror", "queue_saturated_total", "Enqueue attempts that found the queue full."),
		mirrorDroppedTotal:   desc("mirror", "dropped_total", "Files dropped because the queue stayed full."),
		mirrorUploadsTotal:   desc("mirror", "uploads_total", "Finished uploads by result.", "result"),
		mirrorLastSuccess:    desc("mirror", "last_success_unix", "Unix time of the last successful upload."),
		mirrorLastError:      desc("mirror", "last_error_unix", "Unix time of the last failed upload."),

		observerClients:  desc("observer", "clients", "Connected websocket observers."),
		observerMessages: desc("observer", "messages_total", "State messages offered to observers by result.", "result"),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.tick, c.casings, c.enabledCasings, c.controllers, c.packets, c.packetsTotal,
		c.lookupsTotal, c.redstoneTotal, c.unloadedRegions, c.stepMS,
		c.indexQueueDepth, c.indexQueueCapacity, c.indexDroppedTotal,
		c.mirrorQueueDepth, c.mirrorQueueCapacity, c.mirrorEnqueuedTotal, c.mirrorSaturatedTotal,
		c.mirrorDroppedTotal, c.mirrorUploadsTotal, c.mirrorLastSuccess, c.mirrorLastError,
		c.observerClients, c.observerMessages,
	} {
		ch <- d
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.src.Grid != nil {
		c.collectGrid(ch, c.src.Grid())
	}
	if c.src.Index != nil {
		s := c.src.Index()
		gauge(ch, c.indexQueueDepth, float64(s.QueueDepth))
		gauge(ch, c.indexQueueCapacity, float64(s.QueueCapacity))
		counter(ch, c.indexDroppedTotal, float64(s.DropTickTotal), "tick")
		counter(ch, c.indexDroppedTotal, float64(s.DropSnapshotTotal), "snapshot")
	}
	if c.src.Mirror != nil {
		s := c.src.Mirror()
		gauge(ch, c.mirrorQueueDepth, float64(s.QueueDepth))
		gauge(ch, c.mirrorQueueCapacity, float64(s.QueueCapacity))
		counter(ch, c.mirrorEnqueuedTotal, float64(s.EnqueuedTotal))
		counter(ch, c.mirrorSaturatedTotal, float64(s.QueueSaturatedTotal))
		counter(ch, c.mirrorDroppedTotal, float64(s.DroppedTotal))
		counter(ch, c.mirrorUploadsTotal, float64(s.UploadSuccessTotal), "success")
		counter(ch, c.mirrorUploadsTotal, float64(s.UploadFailTotal), "fail")
		gauge(ch, c.mirrorLastSuccess, float64(s.LastSuccessUnix))
		gauge(ch, c.mirrorLastError, float64(s.LastErrorUnix))
	}
	if c.src.Observers != nil {
		s := c.src.Observers()
		gauge(ch, c.observerClients, float64(s.Clients))
		counter(ch, c.observerMessages, float64(s.SentTotal), "sent")
		counter(ch, c.observerMessages, float64(s.DroppedTotal), "dropped")
	}
}

func (c *Collector) collectGrid(ch chan<- prometheus.Metric, m grid.Metrics) {
	gauge(ch, c.tick, float64(m.Tick))
	gauge(ch, c.casings, float64(m.Casings))
	gauge(ch, c.enabledCasings, float64(m.EnabledCasings))
	for _, st := range controllerStates {
		gauge(ch, c.controllers, float64(m.ControllersByState[st]), st)
	}
	gauge(ch, c.packets, float64(m.Packets))
	counter(ch, c.packetsTotal, float64(m.Infrared.Emitted), "emitted")
	counter(ch, c.packetsTotal, float64(m.Infrared.Consumed), "consumed")
	counter(ch, c.packetsTotal, float64(m.Infrared.Redirected), "redirected")
	counter(ch, c.packetsTotal, float64(m.Infrared.Expired), "expired")
	counter(ch, c.packetsTotal, float64(m.Infrared.Lost), "lost")
	counter(ch, c.lookupsTotal, float64(m.LookupsResolved))
	counter(ch, c.redstoneTotal, float64(m.RedstoneUpdates))
	gauge(ch, c.unloadedRegions, float64(m.UnloadedRegions))
	gauge(ch, c.stepMS, m.StepMS)
}

func gauge(ch chan<- prometheus.Metric, d *prometheus.Desc, v float64, labels ...string) {
	ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
}

func counter(ch chan<- prometheus.Metric, d *prometheus.Desc, v float64, labels ...string) {
	ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, v, labels...)
}

// NewRegistry returns a registry holding the collector plus the Go runtime
// and process collectors.
func NewRegistry(src Sources) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		NewCollector(src),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}
