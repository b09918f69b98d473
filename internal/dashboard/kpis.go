// Package dashboard derives summary counts from a snapshot of components.
package dashboard

import (
	"sort"

	"github.com/rpattn/comptrack/internal/domain"
)

// topStatusCount is how many statuses drive the proportional charts.
const topStatusCount = 3

// StatusSlice is one status with its count and display colour.
type StatusSlice struct {
	Name      string        `json:"name"`
	RawStatus domain.Status `json:"rawStatus"`
	Value     int           `json:"value"`
	Color     string        `json:"color"`
}

// TypeAggregate counts the components of one type per status.
type TypeAggregate struct {
	Type      string `json:"type"`
	Usable    int    `json:"usable"`
	Faulty    int    `json:"faulty"`
	InProcess int    `json:"inProcess"`
	Returned  int    `json:"returned"`
	Closed    int    `json:"closed"`
	Total     int    `json:"total"`
}

// Count returns the number of components of this type in status.
func (a TypeAggregate) Count(status domain.Status) int {
	switch status {
	case domain.StatusUsable:
		return a.Usable
	case domain.StatusFaulty:
		return a.Faulty
	case domain.StatusInProcess:
		return a.InProcess
	case domain.StatusReturned:
		return a.Returned
	case domain.StatusClosed:
		return a.Closed
	}
	return 0
}

func (a *TypeAggregate) add(status domain.Status) {
	switch status {
	case domain.StatusUsable:
		a.Usable++
	case domain.StatusFaulty:
		a.Faulty++
	case domain.StatusInProcess:
		a.InProcess++
	case domain.StatusReturned:
		a.Returned++
	case domain.StatusClosed:
		a.Closed++
	}
	a.Total++
}

// KPIs is the dashboard summary.
type KPIs struct {
	TotalComponents int             `json:"totalComponents"`
	TotalActive     int             `json:"totalActive"`
	TotalUsable     int             `json:"totalUsable"`
	TotalFaulty     int             `json:"totalFaulty"`
	TotalInProcess  int             `json:"totalInProcess"`
	TotalReturned   int             `json:"totalReturned"`
	TotalClosed     int             `json:"totalClosed"`
	StatusOverview  []StatusSlice   `json:"statusOverview"`
	TypeAggregates  []TypeAggregate `json:"typeAggregates"`
	TopStatuses     []StatusSlice   `json:"topStatuses"`
}

// StatusCounts returns the per-status counts keyed by status name.
func (k KPIs) StatusCounts() map[string]int {
	out := make(map[string]int, len(k.StatusOverview))
	for _, slice := range k.StatusOverview {
		out[string(slice.RawStatus)] = slice.Value
	}
	return out
}

var statusLabels = map[domain.Status]string{
	domain.StatusUsable:    "Usable",
	domain.StatusFaulty:    "Faulty",
	domain.StatusInProcess: "In process",
	domain.StatusReturned:  "Returned",
	domain.StatusClosed:    "Closed",
}

var statusColors = map[domain.Status]string{
	domain.StatusUsable:    "#0096FF",
	domain.StatusFaulty:    "#FF754B",
	domain.StatusInProcess: "#CF86FF",
	domain.StatusReturned:  "#7F8392",
	domain.StatusClosed:    "#2D303E",
}

// Compute summarises components. Types lists the configured component types in display
// order; types found in the data but not configured are appended in sorted order.
func Compute(components []domain.Component, types []string) KPIs {
	counts := make(map[domain.Status]int, len(domain.Statuses))
	byType := make(map[string]*TypeAggregate, len(types))
	order := make([]string, 0, len(types))
	for _, t := range types {
		if _, seen := byType[t]; seen {
			continue
		}
		byType[t] = &TypeAggregate{Type: t}
		order = append(order, t)
	}

	var extra []string
	for _, c := range components {
		counts[c.Status]++
		agg, ok := byType[c.Type]
		if !ok {
			agg = &TypeAggregate{Type: c.Type}
			byType[c.Type] = agg
			extra = append(extra, c.Type)
		}
		agg.add(c.Status)
	}
	sort.Strings(extra)
	order = append(order, extra...)

	k := KPIs{
		TotalComponents: len(components),
		TotalUsable:     counts[domain.StatusUsable],
		TotalFaulty:     counts[domain.StatusFaulty],
		TotalInProcess:  counts[domain.StatusInProcess],
		TotalReturned:   counts[domain.StatusReturned],
		TotalClosed:     counts[domain.StatusClosed],
		StatusOverview:  make([]StatusSlice, 0, len(domain.Statuses)),
		TypeAggregates:  make([]TypeAggregate, 0, len(order)),
	}
	k.TotalActive = k.TotalComponents - k.TotalClosed - k.TotalReturned

	for _, status := range domain.Statuses {
		k.StatusOverview = append(k.StatusOverview, StatusSlice{
			Name:      statusLabels[status],
			RawStatus: status,
			Value:     counts[status],
			Color:     statusColors[status],
		})
	}
	for _, t := range order {
		k.TypeAggregates = append(k.TypeAggregates, *byType[t])
	}

	top := make([]StatusSlice, len(k.StatusOverview))
	copy(top, k.StatusOverview)
	// stable: equal counts keep canonical status order
	sort.SliceStable(top, func(i, j int) bool { return top[i].Value > top[j].Value })
	k.TopStatuses = top[:topStatusCount]

	return k
}
