package media

// Capabilities is resolved once when a session opens and consulted afterwards
// instead of probing the engine again.
type Capabilities struct {
	SupportsNativeAdaptiveBitrate bool
	SupportsManifestAccess        bool
	TouchPrimary                  bool

	levels   LevelController
	manifest ManifestSource
}

// ResolveCapabilities inspects e for the optional interfaces it implements.
func ResolveCapabilities(e Engine, touchPrimary bool) Capabilities {
	c := Capabilities{TouchPrimary: touchPrimary}
	if lc, ok := e.(LevelController); ok {
		c.SupportsNativeAdaptiveBitrate = true
		c.levels = lc
	}
	if ms, ok := e.(ManifestSource); ok {
		c.SupportsManifestAccess = true
		c.manifest = ms
	}
	return c
}

// Levels returns the native level controller, or nil.
func (c Capabilities) Levels() LevelController {
	return c.levels
}

// Manifest returns the manifest accessor, or nil.
func (c Capabilities) Manifest() ManifestSource {
	return c.manifest
}
