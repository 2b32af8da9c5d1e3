package automation

import (
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
)

// fakeLocator is a single element of a fakePage. Methods outside the
// overridden set panic through the nil embedded interface.
type fakeLocator struct {
	playwright.Locator
	page     *fakePage
	selector string

	mu       sync.Mutex
	present  bool
	visible  bool
	clicks   int
	clickErr error
	filled   []string
	typed    string
	files    interface{}
	filesErr error
	evals    []interface{}
	onClick  func()
}

func (l *fakeLocator) First() playwright.Locator { return l }

func (l *fakeLocator) Count() (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.present || l.visible {
		return 1, nil
	}
	return 0, nil
}

func (l *fakeLocator) IsVisible(...playwright.LocatorIsVisibleOptions) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.visible, nil
}

func (l *fakeLocator) show() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.visible = true
}

func (l *fakeLocator) Click(...playwright.LocatorClickOptions) error {
	return l.click()
}

func (l *fakeLocator) click() error {
	l.mu.Lock()
	if l.clickErr != nil {
		l.mu.Unlock()
		return l.clickErr
	}
	l.clicks++
	onClick := l.onClick
	l.mu.Unlock()

	l.page.record("click:" + l.selector)
	if onClick != nil {
		onClick()
	}
	return nil
}

func (l *fakeLocator) Fill(value string, _ ...playwright.LocatorFillOptions) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.filled = append(l.filled, value)
	l.typed = value
	return nil
}

func (l *fakeLocator) PressSequentially(text string, _ ...playwright.LocatorPressSequentiallyOptions) error {
	l.mu.Lock()
	l.typed += text
	l.mu.Unlock()
	l.page.record("type:" + l.selector)
	return nil
}

func (l *fakeLocator) ScrollIntoViewIfNeeded(...playwright.LocatorScrollIntoViewIfNeededOptions) error {
	return nil
}

func (l *fakeLocator) Evaluate(expression string, arg interface{}, _ ...playwright.LocatorEvaluateOptions) (interface{}, error) {
	if expression == clickElementJS {
		return nil, l.click()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.evals = append(l.evals, arg)
	return nil, nil
}

func (l *fakeLocator) SetInputFiles(files interface{}, _ ...playwright.LocatorSetInputFilesOptions) error {
	l.mu.Lock()
	if l.filesErr != nil {
		l.mu.Unlock()
		return l.filesErr
	}
	l.files = files
	l.mu.Unlock()
	l.page.record("upload:" + l.selector)
	return nil
}

func (l *fakeLocator) clickCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.clicks
}

type evalCall struct {
	expression string
	arg        interface{}
}

// fakePage models the portal DOM as a set of selectors.
type fakePage struct {
	mu         sync.Mutex
	elements   map[string]*fakeLocator
	events     []string
	evalCalls  []evalCall
	evalFn     func(expression string, arg interface{}) (interface{}, error)
	url        string
	gotoErr    error
	gotos      int
	reloads    int
	loadStates int
}

func newFakePage() *fakePage {
	return &fakePage{elements: make(map[string]*fakeLocator)}
}

func (p *fakePage) el(selector string) *fakeLocator {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.elements[selector]
	if !ok {
		l = &fakeLocator{page: p, selector: selector}
		p.elements[selector] = l
	}
	return l
}

// visible adds visible elements for the selectors.
func (p *fakePage) visible(selectors ...string) {
	for _, s := range selectors {
		p.el(s).show()
	}
}

// attached adds hidden elements for the selectors.
func (p *fakePage) attached(selectors ...string) {
	for _, s := range selectors {
		l := p.el(s)
		l.mu.Lock()
		l.present = true
		l.mu.Unlock()
	}
}

func (p *fakePage) record(event string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *fakePage) eventLog() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

func (p *fakePage) evaluations(expression string) []interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	var args []interface{}
	for _, c := range p.evalCalls {
		if c.expression == expression {
			args = append(args, c.arg)
		}
	}
	return args
}

func (p *fakePage) Goto(url string, _ ...playwright.PageGotoOptions) (playwright.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gotos++
	if p.gotoErr != nil {
		return nil, p.gotoErr
	}
	p.url = url
	return nil, nil
}

func (p *fakePage) Reload(...playwright.PageReloadOptions) (playwright.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reloads++
	return nil, nil
}

func (p *fakePage) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *fakePage) Locator(selector string, _ ...playwright.PageLocatorOptions) playwright.Locator {
	return p.el(selector)
}

func (p *fakePage) Evaluate(expression string, arg ...interface{}) (interface{}, error) {
	var a interface{}
	if len(arg) > 0 {
		a = arg[0]
	}
	p.mu.Lock()
	p.evalCalls = append(p.evalCalls, evalCall{expression: expression, arg: a})
	fn := p.evalFn
	p.mu.Unlock()

	if fn != nil {
		return fn(expression, a)
	}
	switch expression {
	case openDropdownJS, setSelectJS, clickDayJS:
		return true, nil
	}
	return nil, nil
}

func (p *fakePage) WaitForLoadState(...playwright.PageWaitForLoadStateOptions) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loadStates++
	return nil
}

func fastTimings() Timings {
	return Timings{
		Navigation:      time.Second,
		LoginMarker:     30 * time.Millisecond,
		Step:            30 * time.Millisecond,
		Form:            30 * time.Millisecond,
		Field:           30 * time.Millisecond,
		UploadConfirm:   10 * time.Millisecond,
		NetworkIdle:     10 * time.Millisecond,
		Poll:            time.Millisecond,
		AdvanceAttempts: 3,
	}
}

const home = "https://zepto.darwinbox.in/"

func newTestDriver() *Driver {
	return NewDriver(home, WithTimings(fastTimings()))
}
