package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"techquest_backend/internal/config"
	"techquest_backend/internal/session"
	"techquest_backend/internal/util"

	"golang.org/x/time/rate"
)

type pistonRuntime struct {
	Language string
	Version  string
}

// 编辑器语言 -> Piston 运行时
var pistonRuntimes = map[string]pistonRuntime{
	"c":      {Language: "c", Version: "10.2.0"},
	"cpp":    {Language: "c++", Version: "10.2.0"},
	"python": {Language: "python", Version: "3.10.0"},
	"java":   {Language: "java", Version: "15.0.2"},
}

type pistonFile struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

type pistonRequest struct {
	Language string       `json:"language"`
	Version  string       `json:"version"`
	Files    []pistonFile `json:"files"`
	Stdin    string       `json:"stdin"`
}

type pistonStage struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
	Output string `json:"output"`
	Code   *int   `json:"code"`
}

type pistonResponse struct {
	Language string       `json:"language"`
	Version  string       `json:"version"`
	Run      pistonStage  `json:"run"`
	Compile  *pistonStage `json:"compile,omitempty"`
	Message  string       `json:"message,omitempty"`
}

// ExecutionService 通过 Piston 运行学生代码
type ExecutionService struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

func NewExecutionService(cfg config.ExecutorConfig) *ExecutionService {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &ExecutionService{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, burst),
	}
}

func (s *ExecutionService) SupportedLanguages() []string {
	langs := make([]string, 0, len(pistonRuntimes))
	for l := range pistonRuntimes {
		langs = append(langs, l)
	}
	sort.Strings(langs)
	return langs
}

func (s *ExecutionService) Run(ctx context.Context, req session.RunRequest) (session.RunResult, error) {
	runtime, ok := pistonRuntimes[req.Language]
	if !ok {
		return session.RunResult{}, fmt.Errorf("%w: %s", util.ErrUnsupportedLanguage, req.Language)
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return session.RunResult{}, err
	}

	body, err := json.Marshal(pistonRequest{
		Language: runtime.Language,
		Version:  runtime.Version,
		Files:    []pistonFile{{Name: "main", Content: req.Code}},
		Stdin:    req.Stdin,
	})
	if err != nil {
		return session.RunResult{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/execute", bytes.NewReader(body))
	if err != nil {
		return session.RunResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return session.RunResult{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return session.RunResult{}, err
	}

	var out pistonResponse
	if resp.StatusCode != http.StatusOK {
		if json.Unmarshal(raw, &out) == nil && out.Message != "" {
			return session.RunResult{}, fmt.Errorf("execution service error (status %d): %s", resp.StatusCode, out.Message)
		}
		return session.RunResult{}, fmt.Errorf("execution service error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return session.RunResult{}, fmt.Errorf("decode execution response: %w", err)
	}

	// 编译失败时没有运行阶段输出
	if out.Compile != nil && out.Compile.Code != nil && *out.Compile.Code != 0 {
		stderr := out.Compile.Stderr
		if stderr == "" {
			stderr = out.Compile.Output
		}
		return session.RunResult{Stderr: stderr}, nil
	}

	return session.RunResult{Stdout: out.Run.Stdout, Stderr: out.Run.Stderr}, nil
}
