package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/fedora-copr/rpmeta/pkg/dataset"
)

const kojiBuildComplete = 1

// fedoraRelease extracts the distro version out of an RPM release tag,
// "1.fc36" yielding "36".
var fedoraRelease = regexp.MustCompile(`\.fc(\d+)`)

// KojiFetcher reads finished builds from a Koji hub over XML-RPC and
// fetches the builder hardware logs from the hub's file server.
type KojiFetcher struct {
	rpc        *xmlrpcClient
	topURL     string
	pageSize   int
	window     Window
	httpClient *http.Client
	log        zerolog.Logger
}

// KojiOptions configures a KojiFetcher.
type KojiOptions struct {
	HubURL   string
	TopURL   string
	PageSize int
	Timeout  time.Duration
	Window   Window
}

func NewKojiFetcher(opts KojiOptions, log zerolog.Logger) *KojiFetcher {
	if opts.PageSize <= 0 {
		opts.PageSize = 1000
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	return &KojiFetcher{
		rpc:        newXMLRPCClient(opts.HubURL, opts.Timeout),
		topURL:     strings.TrimSuffix(opts.TopURL, "/"),
		pageSize:   opts.PageSize,
		window:     opts.Window,
		httpClient: &http.Client{Timeout: opts.Timeout},
		log:        log,
	}
}

// Fetch pages through completed builds newest first and expands each build
// into one record per buildArch task.
func (f *KojiFetcher) Fetch(ctx context.Context) ([]dataset.BuildRecord, error) {
	var records []dataset.BuildRecord
	offset := 0
	for {
		builds, err := f.listBuilds(ctx, offset)
		if err != nil {
			return nil, err
		}
		if len(builds) == 0 {
			break
		}
		for _, build := range builds {
			recs, err := f.recordsForBuild(ctx, build)
			if err != nil {
				return nil, err
			}
			records = append(records, recs...)
		}
		offset += len(builds)
	}
	f.log.Info().Int("records", len(records)).Msg("koji fetch complete")
	return records, nil
}

func (f *KojiFetcher) listBuilds(ctx context.Context, offset int) ([]map[string]any, error) {
	kwargs := map[string]any{
		"__starstar": true,
		"state":      kojiBuildComplete,
		"queryOpts": map[string]any{
			"limit":  f.pageSize,
			"offset": offset,
			"order":  "-completion_ts",
		},
	}
	if !f.window.Start.IsZero() {
		kwargs["createdAfter"] = f.window.Start.Unix()
	}
	if !f.window.End.IsZero() {
		kwargs["createdBefore"] = f.window.End.Unix()
	}

	result, err := f.rpc.call(ctx, "listBuilds", kwargs)
	if err != nil {
		return nil, fmt.Errorf("list koji builds: %w", err)
	}
	items, ok := result.([]any)
	if !ok {
		return nil, fmt.Errorf("list koji builds: unexpected result shape %T", result)
	}

	builds := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if build, ok := item.(map[string]any); ok {
			builds = append(builds, build)
		}
	}
	return builds, nil
}

func (f *KojiFetcher) recordsForBuild(ctx context.Context, build map[string]any) ([]dataset.BuildRecord, error) {
	taskID, ok := asInt(build["task_id"])
	if !ok {
		return nil, nil
	}
	packageName, _ := build["package_name"].(string)
	version, _ := build["version"].(string)
	release, _ := build["release"].(string)
	if packageName == "" || version == "" {
		return nil, nil
	}

	tasks, err := f.taskDescendents(ctx, taskID)
	if err != nil {
		return nil, err
	}

	var records []dataset.BuildRecord
	for _, task := range tasks {
		method, _ := task["method"].(string)
		if method != "buildArch" {
			continue
		}
		arch, _ := task["arch"].(string)
		started, okStart := asFloat(task["start_ts"])
		completed, okEnd := asFloat(task["completion_ts"])
		if arch == "" || arch == "noarch" || !okStart || !okEnd || completed <= started {
			continue
		}
		childID, ok := asInt(task["id"])
		if !ok {
			continue
		}

		rec := dataset.BuildRecord{
			PackageName:  packageName,
			Version:      version,
			OS:           "fedora",
			OSVersion:    osVersionFromRelease(release),
			Arch:         arch,
			EpochSecs:    int64(started),
			DurationSecs: int64(completed - started),
		}
		if hw := f.fetchHwInfo(ctx, childID); hw != nil {
			rec.HwInfo = hw
		}
		records = append(records, rec)
	}
	return records, nil
}

// taskDescendents flattens the getTaskDescendents response, which maps the
// parent task id to its child task list.
func (f *KojiFetcher) taskDescendents(ctx context.Context, taskID int64) ([]map[string]any, error) {
	result, err := f.rpc.call(ctx, "getTaskDescendents", taskID)
	if err != nil {
		return nil, fmt.Errorf("get task descendents: %w", err)
	}
	byParent, ok := result.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("get task descendents: unexpected result shape %T", result)
	}

	var tasks []map[string]any
	for _, children := range byParent {
		items, ok := children.([]any)
		if !ok {
			continue
		}
		for _, item := range items {
			if task, ok := item.(map[string]any); ok {
				tasks = append(tasks, task)
			}
		}
	}
	return tasks, nil
}

// fetchHwInfo downloads the hw_info.log the builder writes into the task
// work directory. Koji shards task output by the last four digits of the
// task id.
func (f *KojiFetcher) fetchHwInfo(ctx context.Context, taskID int64) *dataset.HwInfo {
	if f.topURL == "" {
		return nil
	}
	endpoint := fmt.Sprintf("%s/work/tasks/%d/%d/hw_info.log", f.topURL, taskID%10000, taskID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		f.log.Debug().Err(err).Int64("task", taskID).Msg("hw_info fetch failed")
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil
	}
	hw := dataset.ParseLscpu(string(body))
	return &hw
}

func osVersionFromRelease(release string) string {
	if m := fedoraRelease.FindStringSubmatch(release); m != nil {
		return m[1]
	}
	return ""
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
