package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod/lib/proto"

	"github.com/felixgeelhaar/explore-go/domain/device"
	"github.com/felixgeelhaar/explore-go/domain/exploration"
)

// apiMarker prefixes the console entries emitted by the request hooks.
const apiMarker = "[explore-api]"

// apiHookJS reports every fetch and XMLHttpRequest as a console entry so
// that network calls show up as monitored API calls.
const apiHookJS = `() => {
	const report = (method, url) => console.debug('` + apiMarker + ` ' + method + ' ' + url);
	const fetch = window.fetch;
	if (fetch) {
		window.fetch = function(input, init) {
			const url = typeof input === 'string' ? input : (input && input.url) || '';
			report(((init && init.method) || 'GET').toUpperCase(), url);
			return fetch.apply(this, arguments);
		};
	}
	const open = XMLHttpRequest.prototype.open;
	XMLHttpRequest.prototype.open = function(method, url) {
		report(String(method).toUpperCase(), String(url));
		return open.apply(this, arguments);
	};
}`

// consoleLog buffers console events of the page.
type consoleLog struct {
	mu      sync.Mutex
	entries exploration.LogBundle
}

func (c *consoleLog) add(e exploration.LogEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, e)
}

// ReadAndClear implements device.LogChannel.
func (c *consoleLog) ReadAndClear(ctx context.Context) (exploration.LogBundle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.entries
	c.entries = nil
	return out, nil
}

// AssertOnlyBackgroundNoise implements device.LogChannel.
func (c *consoleLog) AssertOnlyBackgroundNoise(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if n := len(c.entries.Foreground()); n > 0 {
		return fmt.Errorf("%w: %d entries", device.ErrForegroundLogs, n)
	}
	return nil
}

// consoleEntry converts a console event. Errors, warnings and API calls
// are foreground entries, everything else is background noise.
func consoleEntry(typ proto.RuntimeConsoleAPICalledType, args []string, at time.Time) exploration.LogEntry {
	msg := strings.Join(args, " ")
	e := exploration.LogEntry{
		Time:    at,
		Level:   string(typ),
		Tag:     "console",
		Message: msg,
	}

	if rest, ok := strings.CutPrefix(msg, apiMarker+" "); ok {
		e.Tag = "api"
		e.Method = rest
		return e
	}
	switch typ {
	case proto.RuntimeConsoleAPICalledTypeError, proto.RuntimeConsoleAPICalledTypeWarning, proto.RuntimeConsoleAPICalledTypeAssert:
	default:
		e.Background = true
	}
	return e
}

func consoleArgs(args []*proto.RuntimeRemoteObject) []string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		if a == nil {
			continue
		}
		if !a.Value.Nil() {
			parts = append(parts, a.Value.String())
			continue
		}
		if a.Description != "" {
			parts = append(parts, a.Description)
		}
	}
	return parts
}

var _ device.LogChannel = (*consoleLog)(nil)
