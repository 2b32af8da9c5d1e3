package browser

import (
	"errors"
	"sync"

	"github.com/playwright-community/playwright-go"
)

// fakePage implements the few playwright.Page methods the manager calls.
// Anything else panics through the nil embedded interface.
type fakePage struct {
	playwright.Page
	mu       sync.Mutex
	url      string
	closed   bool
	gotoErr  error
	gotos    []string
	evalErr  error
	evalHang chan struct{}
}

func (p *fakePage) Goto(url string, _ ...playwright.PageGotoOptions) (playwright.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gotos = append(p.gotos, url)
	if p.gotoErr != nil {
		return nil, p.gotoErr
	}
	p.url = url
	return nil, nil
}

func (p *fakePage) Evaluate(string, ...interface{}) (interface{}, error) {
	if p.evalHang != nil {
		<-p.evalHang
	}
	return "complete", p.evalErr
}

func (p *fakePage) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePage) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *fakePage) gotoCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.gotos)
}

// fakeContext implements the playwright.BrowserContext methods the manager calls.
type fakeContext struct {
	playwright.BrowserContext
	mu         sync.Mutex
	name       string
	pages      []playwright.Page
	cookies    []playwright.Cookie
	addCalls   int
	added      []playwright.OptionalCookie
	closed     bool
	events     *[]string
	newPageErr error
}

func (c *fakeContext) Pages() []playwright.Page {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	return append([]playwright.Page(nil), c.pages...)
}

func (c *fakeContext) NewPage() (playwright.Page, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.newPageErr != nil {
		return nil, c.newPageErr
	}
	p := &fakePage{}
	c.pages = append(c.pages, p)
	return p, nil
}

func (c *fakeContext) Close(...playwright.BrowserContextCloseOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.events != nil {
		*c.events = append(*c.events, "close:"+c.name)
	}
	return nil
}

func (c *fakeContext) Cookies(...string) ([]playwright.Cookie, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]playwright.Cookie(nil), c.cookies...), nil
}

func (c *fakeContext) AddCookies(cookies []playwright.OptionalCookie) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.addCalls++
	c.added = append(c.added, cookies...)
	for _, oc := range cookies {
		c.cookies = append(c.cookies, playwright.Cookie{Name: oc.Name, Value: oc.Value})
	}
	return nil
}

func (c *fakeContext) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// fakeLauncher hands out contexts built by next, failing the first failures calls.
type fakeLauncher struct {
	mu       sync.Mutex
	calls    int
	dirs     []string
	failures []error
	next     func(n int) *fakeContext
	stopped  bool
	events   *[]string
}

func (l *fakeLauncher) LaunchPersistent(dir string, _ LaunchOptions) (playwright.BrowserContext, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	l.dirs = append(l.dirs, dir)
	if len(l.failures) > 0 {
		err := l.failures[0]
		l.failures = l.failures[1:]
		return nil, err
	}
	bc := l.next(l.calls)
	if l.events != nil {
		*l.events = append(*l.events, "launch:"+bc.name)
	}
	return bc, nil
}

func (l *fakeLauncher) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopped = true
	return nil
}

func (l *fakeLauncher) callCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

var errLocked = errors.New("Failed to launch: profile appears to be in use by another Firefox process (lock)")
