package config

// AllowSet returns the internal set of allowed device identifiers.
func (cm *Manager) AllowSet() map[string]struct{} {
	cm.lock.RLock()
	defer cm.lock.RUnlock()
	return cm.allowSet
}
