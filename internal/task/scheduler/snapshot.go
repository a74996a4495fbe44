package scheduler

import "time"

func (s *Service) Snapshot() Snapshot {
	jobs := s.Jobs()
	items := make([]JobInfo, 0, len(jobs))
	for _, j := range jobs {
		items = append(items, j.info())
	}
	return Snapshot{
		Timezone:            s.loc.String(),
		RescheduleOnFailure: s.cfg.RescheduleOnFailure,
		JobTimeout:          s.cfg.JobTimeout,
		Jobs:                items,
		History:             s.History(0),
	}
}

// History returns up to n most recent runs, oldest first. n <= 0 returns all retained runs.
func (s *Service) History(n int) []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	h := s.history
	if n > 0 && len(h) > n {
		h = h[len(h)-n:]
	}
	return append([]HistoryItem(nil), h...)
}

// Preview returns the next n run times of rec after from, in the scheduler timezone.
func (s *Service) Preview(rec Recurrence, from time.Time, n int) []time.Time {
	out := make([]time.Time, 0, n)
	t := from
	for i := 0; i < n; i++ {
		t = rec.Next(t)
		if t.IsZero() {
			break
		}
		out = append(out, t.In(s.loc))
	}
	return out
}
