package lifecycle

// Persistent variables survive a module's unload/reload cycle but not a
// process restart. They are how a module tells its next incarnation "the
// expensive first-load work is already done". Keys are scoped per module,
// so two modules may use the same variable name.

func (mi *ModInfo) persistKey(name string) string {
	return mi.Module.Name() + "/" + name
}

// LoadPersistent returns the stored value for name and whether one exists.
func (mi *ModInfo) LoadPersistent(name string) (any, bool) {
	mi.mgr.mu.Lock()
	defer mi.mgr.mu.Unlock()
	v, ok := mi.mgr.persistent[mi.persistKey(name)]
	return v, ok
}

// SavePersistent stores a value under name for the module's future
// incarnations.
func (mi *ModInfo) SavePersistent(name string, v any) {
	mi.mgr.mu.Lock()
	mi.mgr.persistent[mi.persistKey(name)] = v
	mi.mgr.mu.Unlock()
}

// LoadPersistentInt returns the stored int for name, or def when unset.
func (mi *ModInfo) LoadPersistentInt(name string, def int) int {
	if v, ok := mi.LoadPersistent(name); ok {
		if i, ok := v.(int); ok {
			return i
		}
	}
	return def
}

// SavePersistentInt stores an int under name.
func (mi *ModInfo) SavePersistentInt(name string, v int) {
	mi.SavePersistent(name, v)
}

// LoadPersistentString returns the stored string for name, or def.
func (mi *ModInfo) LoadPersistentString(name, def string) string {
	if v, ok := mi.LoadPersistent(name); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// SavePersistentString stores a string under name.
func (mi *ModInfo) SavePersistentString(name, v string) {
	mi.SavePersistent(name, v)
}
