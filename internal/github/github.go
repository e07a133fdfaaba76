package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const defaultAPIURL = "https://api.github.com"

// ErrAuth is returned when GitHub rejects the token.
var ErrAuth = errors.New("github authentication failed")

// Client provides access to the GitHub REST API.
type Client struct {
	token   string
	apiURL  string
	httpCli *http.Client
}

// NewClient creates a new GitHub client. Requires GITHUB_TOKEN env var;
// GITHUB_API_URL points it at GitHub Enterprise.
func NewClient() (*Client, error) {
	token := os.Getenv("GITHUB_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("GITHUB_TOKEN environment variable is not set")
	}

	apiURL := os.Getenv("GITHUB_API_URL")
	if apiURL == "" {
		apiURL = defaultAPIURL
	}
	return &Client{
		token:   token,
		apiURL:  strings.TrimRight(apiURL, "/"),
		httpCli: &http.Client{Timeout: 60 * time.Second},
	}, nil
}

// PR identifies a pull request.
type PR struct {
	Owner  string
	Repo   string
	Number int
}

func (p PR) String() string { return fmt.Sprintf("%s/%s#%d", p.Owner, p.Repo, p.Number) }

var prRefRe = regexp.MustCompile(`^(?:([\w.-]+)/([\w.-]+))?#(\d+)$`)

// ParsePR parses "owner/repo#n" or "#n". A missing owner/repo is left
// empty for the caller to fill from the git remote.
func ParsePR(ref string) (PR, error) {
	m := prRefRe.FindStringSubmatch(strings.TrimSpace(ref))
	if m == nil {
		return PR{}, fmt.Errorf("invalid pull request reference %q (want owner/repo#number)", ref)
	}
	n, err := strconv.Atoi(m[3])
	if err != nil || n <= 0 {
		return PR{}, fmt.Errorf("invalid pull request number in %q", ref)
	}
	return PR{Owner: m[1], Repo: m[2], Number: n}, nil
}

// GetPRDiff fetches the diff for a pull request.
func (c *Client) GetPRDiff(ctx context.Context, pr PR) (string, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/pulls/%d", c.apiURL, pr.Owner, pr.Repo, pr.Number)
	body, status, err := c.do(ctx, http.MethodGet, url, "application/vnd.github.v3.diff", nil)
	if err != nil {
		return "", fmt.Errorf("fetching PR diff: %w", err)
	}
	switch {
	case status == http.StatusNotFound:
		return "", fmt.Errorf("PR %s not found", pr)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return "", fmt.Errorf("%w: %s", ErrAuth, string(body))
	case status != http.StatusOK:
		return "", fmt.Errorf("GitHub API error (status %d): %s", status, string(body))
	}
	return string(body), nil
}

// PRFile represents a file changed in a pull request.
type PRFile struct {
	Filename string `json:"filename"`
}

// GetPRFiles fetches the list of files changed in a pull request.
func (c *Client) GetPRFiles(ctx context.Context, pr PR) ([]string, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/pulls/%d/files?per_page=100", c.apiURL, pr.Owner, pr.Repo, pr.Number)
	body, status, err := c.do(ctx, http.MethodGet, url, "application/vnd.github.v3+json", nil)
	if err != nil {
		return nil, fmt.Errorf("fetching PR files: %w", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("GitHub API error (status %d): %s", status, string(body))
	}

	var files []PRFile
	if err := json.Unmarshal(body, &files); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.Filename
	}
	return names, nil
}

// PostComment posts body as a conversation comment on the pull request.
func (c *Client) PostComment(ctx context.Context, pr PR, body string) error {
	url := fmt.Sprintf("%s/repos/%s/%s/issues/%d/comments", c.apiURL, pr.Owner, pr.Repo, pr.Number)
	payload, err := json.Marshal(map[string]string{"body": body})
	if err != nil {
		return fmt.Errorf("marshaling comment: %w", err)
	}
	resp, status, err := c.do(ctx, http.MethodPost, url, "application/vnd.github.v3+json", payload)
	if err != nil {
		return fmt.Errorf("posting comment: %w", err)
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("GitHub API error (status %d): %s", status, string(resp))
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, url, accept string, payload []byte) ([]byte, int, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, 0, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", accept)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpCli.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("reading response: %w", err)
	}
	return data, resp.StatusCode, nil
}

var (
	httpsRemoteRe = regexp.MustCompile(`https?://[^/]+/([^/]+)/([^/\s]+)`)
	sshRemoteRe   = regexp.MustCompile(`[^@]+@[^:]+:([^/]+)/([^/\s]+)`)
)

// ParseRemoteURL extracts owner/repo from a git remote URL.
func ParseRemoteURL(url string) (owner, repo string, err error) {
	url = strings.TrimSuffix(strings.TrimSpace(url), ".git")

	if m := httpsRemoteRe.FindStringSubmatch(url); len(m) == 3 {
		return m[1], m[2], nil
	}
	if m := sshRemoteRe.FindStringSubmatch(url); len(m) == 3 {
		return m[1], m[2], nil
	}
	return "", "", fmt.Errorf("cannot parse owner/repo from remote URL: %s", url)
}
