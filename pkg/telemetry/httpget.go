package telemetry

import (
	"bytes"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
)

type Getter interface {
	DoRequest(url string) (string, error)
}

type getter struct {
	responseBodyFor func(url string) (io.ReadCloser, error)
}

func NewGetter() Getter {
	return &getter{
		responseBodyFor: func(url string) (io.ReadCloser, error) {
			res, err := http.Get(url)
			if err != nil {
				return nil, err
			}

			if res.StatusCode < 200 || res.StatusCode >= 300 {
				defer res.Body.Close()
				body, _ := ioutil.ReadAll(io.LimitReader(res.Body, 512))
				snippet := string(body)
				if len(snippet) > 0 {
					return nil, fmt.Errorf("GET %s: %s: %s", url, res.Status, snippet)
				}
				return nil, fmt.Errorf("GET %s: %s", url, res.Status)
			}

			return res.Body, nil
		},
	}
}

func NewTester(expectations map[string]string) Getter {
	return &getter{
		responseBodyFor: func(url string) (io.ReadCloser, error) {
			res, ok := expectations[url]
			if !ok {
				return nil, fmt.Errorf("unexpected input: url=%v", url)
			}
			return ioutil.NopCloser(bytes.NewReader([]byte(res))), nil
		},
	}
}

func (t *getter) DoRequest(url string) (string, error) {
	res, err := t.responseBodyFor(url)
	if err != nil {
		return "", err
	}
	defer res.Close()

	bytes, err := ioutil.ReadAll(res)
	if err != nil {
		return "", err
	}

	return string(bytes), nil
}
