package cl

import (
	"os"
	"sync"
)

// The allocation ledger is a process-wide debug aid. When enabled it
// records every live API object keyed by its embedded object pointer and
// reports double-registration, double-free, and leaks. It never runs in
// release use: the CL_LOG_ALLOCATIONS environment variable gates it at
// process start.

var trackerEnabled = os.Getenv("CL_LOG_ALLOCATIONS") != ""

type allocation struct {
	magic Magic
	desc  string
}

var (
	trackerMu sync.Mutex
	ledger    map[*object]allocation
)

func trackAlloc(o *object, magic Magic, desc string) {
	if !trackerEnabled {
		return
	}
	trackerMu.Lock()
	defer trackerMu.Unlock()
	if ledger == nil {
		ledger = make(map[*object]allocation)
	}
	if prev, ok := ledger[o]; ok {
		Logger().Error("cl: object registered twice",
			"kind", magic.String(), "desc", desc, "previous", prev.desc)
	}
	ledger[o] = allocation{magic: magic, desc: desc}
	Logger().Debug("cl: object allocated", "kind", magic.String(), "desc", desc)
}

func trackFree(o *object) {
	if !trackerEnabled {
		return
	}
	trackerMu.Lock()
	defer trackerMu.Unlock()
	a, ok := ledger[o]
	if !ok {
		Logger().Error("cl: object freed twice or never registered",
			"kind", o.magic.String())
		return
	}
	delete(ledger, o)
	Logger().Debug("cl: object freed", "kind", a.magic.String(), "desc", a.desc)
}

// LiveObjectCount returns the number of objects currently registered in
// the ledger. Always zero when tracking is disabled.
func LiveObjectCount() int {
	trackerMu.Lock()
	defer trackerMu.Unlock()
	return len(ledger)
}

// ReportLiveObjects logs every object still registered in the ledger.
// Call at process shutdown to surface leaks. Returns the leak count.
func ReportLiveObjects() int {
	trackerMu.Lock()
	defer trackerMu.Unlock()
	for _, a := range ledger {
		Logger().Warn("cl: object leaked", "kind", a.magic.String(), "desc", a.desc)
	}
	return len(ledger)
}
