// Package httpclient sends GraphQL requests over HTTP to a single upstream
// service.
//
// A request is described by a JSON input envelope built with the SetInput*
// helpers:
//
//	{"method":"POST","url":"http://...","header":{"Authorization":["..."]},"body":{...}}
package httpclient

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/tidwall/sjson"
)

const (
	URL    = "url"
	METHOD = "method"
	BODY   = "body"
	HEADER = "header"
)

func SetInputURL(input []byte, url string) []byte {
	out, _ := sjson.SetBytes(input, URL, url)
	return out
}

func SetInputMethod(input []byte, method string) []byte {
	out, _ := sjson.SetBytes(input, METHOD, method)
	return out
}

// SetInputBody sets body, which must be valid JSON.
func SetInputBody(input []byte, body []byte) []byte {
	if len(body) == 0 {
		return input
	}
	out, _ := sjson.SetRawBytes(input, BODY, body)
	return out
}

func SetInputHeader(input []byte, header http.Header) []byte {
	if len(header) == 0 {
		return input
	}
	out, _ := sjson.SetBytes(input, HEADER, map[string][]string(header))
	return out
}

// Transport posts request bodies to one service URL.
type Transport struct {
	client *http.Client
	input  []byte
}

// NewTransport creates a Transport for url. A zero timeout keeps the timeout
// of DefaultNetHttpClient.
func NewTransport(url string, header http.Header, timeout time.Duration) *Transport {
	if timeout == 0 {
		timeout = DefaultNetHttpClient.Timeout
	}

	var input []byte
	input = SetInputMethod(input, http.MethodPost)
	input = SetInputURL(input, url)
	input = SetInputHeader(input, header)

	return &Transport{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 1024,
			},
		},
		input: input,
	}
}

// SendRequest posts body and returns the decoded response body.
func (t *Transport) SendRequest(ctx context.Context, body []byte) ([]byte, error) {
	input := SetInputBody(append([]byte(nil), t.input...), body)

	out := &bytes.Buffer{}
	if err := Do(t.client, ctx, input, out); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// Close releases idle connections held by the transport.
func (t *Transport) Close() error {
	t.client.CloseIdleConnections()
	return nil
}
