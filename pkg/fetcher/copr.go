package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/fedora-copr/rpmeta/pkg/dataset"
)

// CoprFetcher reads finished builds from a Copr instance over its JSON API.
type CoprFetcher struct {
	baseURL    string
	owner      string
	project    string
	pageSize   int
	window     Window
	httpClient *http.Client
	log        zerolog.Logger
}

// CoprOptions configures a CoprFetcher.
type CoprOptions struct {
	BaseURL  string
	Owner    string
	Project  string
	PageSize int
	Timeout  time.Duration
	Window   Window
}

func NewCoprFetcher(opts CoprOptions, log zerolog.Logger) *CoprFetcher {
	if opts.PageSize <= 0 {
		opts.PageSize = 100
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	return &CoprFetcher{
		baseURL:    strings.TrimSuffix(opts.BaseURL, "/"),
		owner:      opts.Owner,
		project:    opts.Project,
		pageSize:   opts.PageSize,
		window:     opts.Window,
		httpClient: &http.Client{Timeout: opts.Timeout},
		log:        log,
	}
}

type coprBuild struct {
	ID            int64 `json:"id"`
	EndedOn       int64 `json:"ended_on"`
	SourcePackage struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"source_package"`
}

type coprBuildChroot struct {
	Name      string `json:"name"`
	State     string `json:"state"`
	StartedOn int64  `json:"started_on"`
	EndedOn   int64  `json:"ended_on"`
	ResultURL string `json:"result_url"`
}

// Fetch walks the project's succeeded builds page by page and joins each
// build with its per-chroot results.
func (f *CoprFetcher) Fetch(ctx context.Context) ([]dataset.BuildRecord, error) {
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
			if !f.inWindow(build.EndedOn) {
				continue
			}
			recs, err := f.recordsForBuild(ctx, build)
			if err != nil {
				return nil, err
			}
			records = append(records, recs...)
		}
		offset += len(builds)
	}
	f.log.Info().Int("records", len(records)).Str("project", f.owner+"/"+f.project).Msg("copr fetch complete")
	return records, nil
}

func (f *CoprFetcher) recordsForBuild(ctx context.Context, build coprBuild) ([]dataset.BuildRecord, error) {
	chroots, err := f.listBuildChroots(ctx, build.ID)
	if err != nil {
		return nil, err
	}

	var records []dataset.BuildRecord
	for _, chroot := range chroots {
		if chroot.State != "succeeded" || chroot.EndedOn <= chroot.StartedOn {
			continue
		}
		osName, osVersion, arch, err := dataset.ParseChroot(chroot.Name)
		if err != nil {
			f.log.Warn().Str("chroot", chroot.Name).Int64("build", build.ID).Msg("skipping unparseable chroot")
			continue
		}

		rec := dataset.BuildRecord{
			PackageName:  build.SourcePackage.Name,
			Version:      splitEVR(build.SourcePackage.Version),
			OS:           osName,
			OSVersion:    osVersion,
			Arch:         arch,
			MockChroot:   chroot.Name,
			EpochSecs:    chroot.StartedOn,
			DurationSecs: chroot.EndedOn - chroot.StartedOn,
		}
		if hw := f.fetchHwInfo(ctx, chroot.ResultURL); hw != nil {
			rec.HwInfo = hw
		}
		records = append(records, rec)
	}
	return records, nil
}

func (f *CoprFetcher) listBuilds(ctx context.Context, offset int) ([]coprBuild, error) {
	query := url.Values{}
	query.Set("ownername", f.owner)
	query.Set("projectname", f.project)
	query.Set("status", "succeeded")
	query.Set("limit", fmt.Sprint(f.pageSize))
	query.Set("offset", fmt.Sprint(offset))

	var page struct {
		Items []coprBuild `json:"items"`
	}
	if err := f.getJSON(ctx, "/api_3/build/list/?"+query.Encode(), &page); err != nil {
		return nil, fmt.Errorf("list copr builds: %w", err)
	}
	return page.Items, nil
}

func (f *CoprFetcher) listBuildChroots(ctx context.Context, buildID int64) ([]coprBuildChroot, error) {
	query := url.Values{}
	query.Set("build_id", fmt.Sprint(buildID))

	var page struct {
		Items []coprBuildChroot `json:"items"`
	}
	if err := f.getJSON(ctx, "/api_3/build-chroot/list/?"+query.Encode(), &page); err != nil {
		return nil, fmt.Errorf("list build chroots: %w", err)
	}
	return page.Items, nil
}

// fetchHwInfo downloads the builder's lscpu dump from the chroot result
// directory. Missing hardware logs are tolerated.
func (f *CoprFetcher) fetchHwInfo(ctx context.Context, resultURL string) *dataset.HwInfo {
	if resultURL == "" {
		return nil
	}
	endpoint := strings.TrimSuffix(resultURL, "/") + "/hw_info.log"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		f.log.Debug().Err(err).Str("url", endpoint).Msg("hw_info fetch failed")
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

func (f *CoprFetcher) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("copr API %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (f *CoprFetcher) inWindow(endedOn int64) bool {
	if endedOn == 0 {
		return false
	}
	ended := time.Unix(endedOn, 0)
	if !f.window.Start.IsZero() && ended.Before(f.window.Start) {
		return false
	}
	if !f.window.End.IsZero() && ended.After(f.window.End) {
		return false
	}
	return true
}
