package transport

import "folio/internal/logging"

// Stats reports transfer counters and region usage.
type Stats struct {
	Variant      Variant `json:"variant"`
	Transmitted  int     `json:"transmitted"`
	Acknowledged int     `json:"acknowledged"`
	Placements   int     `json:"placements"`
	Timeouts     int     `json:"timeouts"`
	Errors       int     `json:"errors"`
	StaleReplies int     `json:"stale_replies"`
	Retries      int     `json:"retries"`
	Fallbacks    int     `json:"fallbacks"`
	Regions      int     `json:"regions"`
	Regrowths    int     `json:"regrowths"`
	RegionBytes  int     `json:"region_bytes"`
	InFlight     int     `json:"in_flight"`
	Waiting      int     `json:"waiting"`
	Resident     int     `json:"resident"`
}

func (m *manager) snapshot() Stats {
	out := m.stats
	out.Variant = m.variant
	out.InFlight = len(m.inflight)
	out.Waiting = len(m.waiting)
	out.Resident = len(m.resident)
	for _, s := range m.slots {
		if s.region != nil {
			out.Regions++
			out.RegionBytes += s.region.Capacity()
		}
	}
	return out
}

func (s Stats) attrs() []logging.Attr {
	return []logging.Attr{
		logging.String("variant", s.Variant.String()),
		logging.Int("transmitted", s.Transmitted),
		logging.Int("acknowledged", s.Acknowledged),
		logging.Int("placements", s.Placements),
		logging.Int("timeouts", s.Timeouts),
		logging.Int("stale_replies", s.StaleReplies),
		logging.Int("fallbacks", s.Fallbacks),
		logging.Int("region_bytes", s.RegionBytes),
	}
}
