package player

// Page is the surrounding page layer: it provides player mount points and the
// page-level scroll lock.
type Page interface {
	Mount(playerID string) (Container, error)
	SetScrollLock(locked bool)
}

// Container is the mounted player element.
type Container interface {
	RequestFullscreen() error
	ExitFullscreen() error
	Remove() error
}

// HeadlessPage is a Page with no visual surface. Containers only track
// fullscreen and mount state; playerd uses it when no page shell is attached.
type HeadlessPage struct {
	onScrollLock func(bool)
}

// NewHeadlessPage returns a HeadlessPage. onScrollLock may be nil.
func NewHeadlessPage(onScrollLock func(bool)) *HeadlessPage {
	return &HeadlessPage{onScrollLock: onScrollLock}
}

// Mount implements Page.
func (p *HeadlessPage) Mount(playerID string) (Container, error) {
	return &headlessContainer{id: playerID}, nil
}

// SetScrollLock implements Page.
func (p *HeadlessPage) SetScrollLock(locked bool) {
	if p.onScrollLock != nil {
		p.onScrollLock(locked)
	}
}

type headlessContainer struct {
	id string
}

func (c *headlessContainer) RequestFullscreen() error { return nil }
func (c *headlessContainer) ExitFullscreen() error    { return nil }
func (c *headlessContainer) Remove() error            { return nil }
