package cloudsync

import (
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// subscription owns one live websocket to the room's subscribe endpoint.
type subscription struct {
	conn     *websocket.Conn
	done     chan struct{}
	stopOnce sync.Once
	stopped  chan struct{}
}

// cancel closes the connection and waits for the reader goroutine to exit,
// so no callback fires after cancel returns.
func (s *subscription) cancel() {
	s.stopOnce.Do(func() {
		close(s.stopped)
		_ = s.conn.Close()
	})
	<-s.done
}

// Listen subscribes to the current room. Every frame carries the full
// ordered snapshot; onChange must treat it as a replacement, not an append.
// Calling Listen again replaces the previous subscription: the old
// callback is guaranteed silent once the new handle is returned. While the
// facade is disabled, Listen returns an inert unsubscribe and no error.
func (f *Facade) Listen(onChange func([]Item), onError func(error)) (func(), error) {
	if !f.Enabled() {
		return func() {}, nil
	}

	f.mu.Lock()
	prev := f.sub
	f.mu.Unlock()
	if prev != nil {
		prev.cancel()
	}

	wsURL, err := f.subscribeURL()
	if err != nil {
		return func() {}, err
	}
	header := http.Header{}
	f.mu.Lock()
	if f.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+f.cfg.Token)
	}
	f.mu.Unlock()
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return func() {}, err
	}

	sub := &subscription{
		conn:    conn,
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	f.mu.Lock()
	f.sub = sub
	f.mu.Unlock()

	go func() {
		defer close(sub.done)
		for {
			var frame snapshotFrame
			if err := conn.ReadJSON(&frame); err != nil {
				select {
				case <-sub.stopped:
					// cancelled on purpose, stay quiet
				default:
					if onError != nil {
						onError(err)
					}
				}
				return
			}
			select {
			case <-sub.stopped:
				return
			default:
			}
			items := frame.Messages
			if items == nil {
				items = []Item{}
			}
			onChange(items)
		}
	}()

	return sub.cancel, nil
}

func (f *Facade) subscribeURL() (string, error) {
	f.mu.Lock()
	base := f.cfg.BaseURL
	room := f.cfg.Room
	f.mu.Unlock()
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path += "/rooms/" + url.PathEscape(room) + "/subscribe"
	return u.String(), nil
}
