package watch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/solwind/snipsync/internal/records"
)

type websocketFeed struct {
	conn *websocket.Conn
}

func (f *websocketFeed) Next(ctx context.Context) (Event, error) {
	var evt Event
	err := wsjson.Read(ctx, f.conn, &evt)
	return evt, err
}

func (f *websocketFeed) Close() error {
	return f.conn.Close(websocket.StatusNormalClosure, "")
}

// FeedURL derives the realtime endpoint from the store's base URL.
func FeedURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported store url scheme %q", u.Scheme)
	}
	u.Path += "/api/realtime"
	u.RawQuery = url.Values{"collections": []string{strings.Join([]string{
		records.CollectionCategories, records.CollectionSubcategories, records.CollectionSnippets,
	}, ",")}}.Encode()
	return u.String(), nil
}

// WebsocketDialer connects to the store's change feed with a bearer token.
func WebsocketDialer(baseURL, token string, httpClient *http.Client) (Dialer, error) {
	feedURL, err := FeedURL(baseURL)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) (Feed, error) {
		header := http.Header{}
		if token != "" {
			header.Set("Authorization", "Bearer "+token)
		}
		header.Set("X-Correlation-Id", uuid.NewString())
		conn, _, err := websocket.Dial(ctx, feedURL, &websocket.DialOptions{
			HTTPClient: httpClient,
			HTTPHeader: header,
		})
		if err != nil {
			return nil, &records.NetworkError{Op: "dial change feed", Err: err}
		}
		return &websocketFeed{conn: conn}, nil
	}, nil
}
