package jobsengine

import "github.com/ternarybob/jobsengine/pkg/priorityqueue"

func defaultTestLevels() []priorityqueue.Level[Priority] {
	ratios := DefaultPriorityRatios()
	levels := make([]priorityqueue.Level[Priority], 0, len(DefaultPriorityOrder()))
	for _, p := range DefaultPriorityOrder() {
		levels = append(levels, priorityqueue.Level[Priority]{Priority: p, Ratio: ratios[p]})
	}
	return levels
}
