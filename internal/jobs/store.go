package jobs

// Get implements both api.EvaluationStore and api.RemediationStore: it
// tries an evaluation record first, falling back to a remediation record,
// since both id spaces are opaque UUIDs and the HTTP routes already know
// which kind of ID they're asking about.
func (m *Manager) Get(id string) (interface{}, error) {
	if rec, err := m.evalStore.GetEvaluation(id); err == nil {
		return rec, nil
	}
	return m.remStore.GetRemediation(id)
}

// Import implements api.EvaluationStore.
func (m *Manager) Import(record interface{}) (string, error) {
	return m.evalStore.ImportEvaluation(record)
}

// Patch implements api.RemediationStore.
func (m *Manager) Patch(id string) (string, error) {
	return m.remStore.PatchFor(id)
}
