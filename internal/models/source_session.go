package models

// SourceSession identifies one load attempt against the session coordinator
// (C9). LoadID is monotonically increasing per engine instance; an adapter
// callback or async result that carries a stale LoadID has been superseded
// by a later load() call and must be discarded (§3, §9).
type SourceSession struct {
	LoadID int64
	URI    string
	Levels []QualityLevel
}

// IsCurrent reports whether session is still the active load, i.e. its
// LoadID matches the coordinator's current one.
func (s SourceSession) IsCurrent(currentLoadID int64) bool {
	return s.LoadID == currentLoadID
}
