// Package version はビルド情報の取得と表示を担う
//
// git の情報は go build が埋め込む VCS 情報から取得する。
// Describe と BuildTime はリンク時に上書きできる:
//
//	go build -ldflags "-X myfirstclap/internal/version.Describe=$(git describe --tags --always --dirty) \
//	  -X myfirstclap/internal/version.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
package version

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"runtime/debug"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// リンク時に -X で埋め込まれる値
var (
	Describe = ""

	// BuildTime はビルド時刻 (RFC3339)
	// build_timestamp はこの時刻を UTC で、build_date はその日付部分を表す
	BuildTime = ""
)

const unknown = "Unknown"

// Info は json 形式で出力するバージョン情報
type Info struct {
	BuildDate      string `json:"build_date"`
	BuildTimestamp string `json:"build_timestamp"`
	GitCommitDate  string `json:"git_commit_date"`
	GitDescribe    string `json:"git_describe"`
	GitSHA         string `json:"git_sha"`
	OSVersion      string `json:"os_version"`
}

// FullInfo は full 形式で出力するバージョン情報
type FullInfo struct {
	Info

	GitDirty      string `json:"git_dirty"`
	GoVersion     string `json:"go_version"`
	GoCompiler    string `json:"go_compiler"`
	GoOS          string `json:"go_os"`
	GoArch        string `json:"go_arch"`
	ModulePath    string `json:"module_path"`
	ModuleVersion string `json:"module_version"`
	VCS           string `json:"vcs"`
	CPUCount      int    `json:"sysinfo_cpu_core_count"`
	Hostname      string `json:"sysinfo_name"`
	User          string `json:"sysinfo_user"`
	Dependencies  string `json:"dependencies"`
}

// buildSettings は debug.BuildInfo から読み取った値
type buildSettings struct {
	info     *debug.BuildInfo
	revision string
	time     string
	modified string
	vcs      string
}

func readBuildSettings() buildSettings {
	var s buildSettings
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return s
	}
	s.info = info
	for _, kv := range info.Settings {
		switch kv.Key {
		case "vcs":
			s.vcs = kv.Value
		case "vcs.revision":
			s.revision = kv.Value
		case "vcs.time":
			s.time = kv.Value
		case "vcs.modified":
			s.modified = kv.Value
		}
	}
	return s
}

// GetDescribe は git describe 相当の文字列を返す
func GetDescribe() string {
	if Describe != "" {
		return Describe
	}
	s := readBuildSettings()
	if s.revision == "" {
		if s.info != nil && s.info.Main.Version != "" {
			return s.info.Main.Version
		}
		return unknown
	}
	describe := shortSHA(s.revision)
	if s.modified == "true" {
		describe += "-dirty"
	}
	return describe
}

// GetVersion はビルド情報を取得する
func GetVersion() Info {
	s := readBuildSettings()
	return newInfo(s)
}

func newInfo(s buildSettings) Info {
	info := Info{
		BuildDate:      unknown,
		BuildTimestamp: orUnknown(BuildTime),
		GitCommitDate:  unknown,
		GitDescribe:    GetDescribe(),
		GitSHA:         orUnknown(s.revision),
		OSVersion:      runtime.GOOS + "/" + runtime.GOARCH,
	}
	// 解釈できない値はそのまま build_timestamp に出し、日付は不明とする
	if t, err := time.Parse(time.RFC3339, BuildTime); err == nil {
		t = t.UTC()
		info.BuildTimestamp = t.Format(time.RFC3339)
		info.BuildDate = t.Format(time.DateOnly)
	}
	if t, err := time.Parse(time.RFC3339, s.time); err == nil {
		info.GitCommitDate = t.Format(time.DateOnly)
	}
	return info
}

// GetFullVersion はビルド環境やホストの情報も含めたバージョン情報を取得する
func GetFullVersion() FullInfo {
	s := readBuildSettings()
	full := FullInfo{
		Info:       newInfo(s),
		GitDirty:   orUnknown(s.modified),
		GoVersion:  runtime.Version(),
		GoCompiler: runtime.Compiler,
		GoOS:       runtime.GOOS,
		GoArch:     runtime.GOARCH,
		VCS:        orUnknown(s.vcs),
		CPUCount:   runtime.NumCPU(),
		Hostname:   unknown,
		User:       orUnknown(os.Getenv("USER")),
	}

	if h, err := os.Hostname(); err == nil {
		full.Hostname = h
	}
	if s.info != nil {
		full.ModulePath = s.info.Main.Path
		full.ModuleVersion = orUnknown(s.info.Main.Version)
		deps := make([]string, 0, len(s.info.Deps))
		for _, d := range s.info.Deps {
			deps = append(deps, d.Path+" "+d.Version)
		}
		full.Dependencies = orUnknown(strings.Join(deps, ","))
	} else {
		full.ModulePath = unknown
		full.ModuleVersion = unknown
		full.Dependencies = unknown
	}
	return full
}

// Run は指定された形式でバージョン情報を w に出力する
// output は text, json, full のいずれか。それ以外は text として扱う
func Run(w io.Writer, output string, pretty bool) error {
	switch output {
	case "json":
		return writeJSON(w, GetVersion(), pretty)
	case "full":
		return writeJSON(w, GetFullVersion(), pretty)
	default:
		_, err := fmt.Fprintln(w, GetDescribe())
		return err
	}
}

func writeJSON(w io.Writer, v any, pretty bool) error {
	var (
		data []byte
		err  error
	)
	if pretty {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return fmt.Errorf("バージョン情報のJSON変換に失敗: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}

func orUnknown(s string) string {
	if s == "" {
		return unknown
	}
	return s
}
