package auditcli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// apiClient is a thin JSON client over the audit REST API. The host pointer
// is shared with the root command so the persistent flag applies to every
// subcommand.
type apiClient struct {
	host *string
	http *http.Client
}

func (c *apiClient) client() *http.Client {
	if c.http == nil {
		c.http = &http.Client{Timeout: 30 * time.Second}
	}
	return c.http
}

func (c *apiClient) url(path string, query url.Values) string {
	base := strings.TrimRight(*c.host, "/")
	u := base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// do performs the request and decodes the JSON response. Non-2xx responses
// become errors carrying the server's message.
func (c *apiClient) do(method, path string, query url.Values, out any) error {
	req, err := http.NewRequest(method, c.url(path, query), nil)
	if err != nil {
		return err
	}

	resp, err := c.client().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Message string `json:"message"`
			Error   string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil {
			if apiErr.Message != "" {
				return fmt.Errorf("%s (status %d)", apiErr.Message, resp.StatusCode)
			}
			if apiErr.Error != "" {
				return fmt.Errorf("%s (status %d)", apiErr.Error, resp.StatusCode)
			}
		}
		return fmt.Errorf("request failed with status %d", resp.StatusCode)
	}

	if out != nil {
		return json.Unmarshal(body, out)
	}
	return nil
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
