package action

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wneessen/go-mail"

	"github.com/kylemclaren/local-tasks/internal/httpclient"
	"github.com/kylemclaren/local-tasks/internal/mailer"
)

// spyFs counts Stat calls to prove validation happens before filesystem access
type spyFs struct {
	afero.Fs
	stats int
}

func (s *spyFs) Stat(name string) (os.FileInfo, error) {
	s.stats++
	return s.Fs.Stat(name)
}

type recordedCommand struct {
	name string
	args []string
}

type fakeRunner struct {
	commands []recordedCommand
	err      error
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) error {
	f.commands = append(f.commands, recordedCommand{name: name, args: args})
	return f.err
}

type fakeMail struct {
	cfg mailer.Config
	msg *mail.Msg
	err error
}

func (f *fakeMail) Send(_ context.Context, cfg mailer.Config, msg *mail.Msg) error {
	f.cfg = cfg
	f.msg = msg
	return f.err
}

func writeFile(t *testing.T, fs afero.Fs, path, content string) {
	t.Helper()
	require.NoError(t, afero.WriteFile(fs, path, []byte(content), 0o644))
}

func readFile(t *testing.T, fs afero.Fs, path string) string {
	t.Helper()
	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	return string(data)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		action string
		params map[string]string
		want   []string
	}{
		{"copy complete", Copy, map[string]string{"source": "/a", "destination": "/b"}, nil},
		{"copy missing destination", Copy, map[string]string{"source": "/a"}, []string{"Missing destination."}},
		{"zip missing both", Zip, nil, []string{"Missing source.", "Missing destination."}},
		{"delete", Delete, map[string]string{}, []string{"Missing target."}},
		{"download", Download, map[string]string{"url": "http://x"}, []string{"Missing destination."}},
		{"email", Email, map[string]string{"smtp_host": "h", "smtp_port": "25", "sender": "a@b"}, []string{"Missing recipient.", "Missing subject.", "Missing body."}},
		{"wallpaper", Wallpaper, nil, []string{"Missing image_path."}},
		{"vpn", VPN, map[string]string{"command": ""}, []string{"Missing command."}},
		{"reboot needs nothing", Reboot, nil, nil},
		{"unknown", "teleport", nil, []string{`Unknown action "teleport".`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Validate(tt.action, tt.params))
		})
	}
}

func TestRunCopyWithoutDestinationTouchesNothing(t *testing.T) {
	fs := &spyFs{Fs: afero.NewMemMapFs()}
	res := New(WithFs(fs)).Run(context.Background(), Copy, map[string]string{"source": "/src.txt"})
	assert.False(t, res.OK)
	assert.Equal(t, "Missing destination.", res.Message)
	assert.Zero(t, fs.stats)
}

func TestRunCopyFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/in/report.txt", "hello")
	require.NoError(t, fs.MkdirAll("/out", 0o755))
	e := New(WithFs(fs))

	res := e.Run(context.Background(), Copy, map[string]string{"source": "/in/report.txt", "destination": "/out"})
	require.True(t, res.OK, res.Message)
	assert.Equal(t, "Copy completed.", res.Message)
	assert.Equal(t, "hello", readFile(t, fs, "/out/report.txt"))

	res = e.Run(context.Background(), Copy, map[string]string{"source": "/in/report.txt", "destination": "/new/dir/copy.txt"})
	require.True(t, res.OK, res.Message)
	assert.Equal(t, "hello", readFile(t, fs, "/new/dir/copy.txt"))
	assert.Equal(t, "hello", readFile(t, fs, "/in/report.txt"))
}

func TestRunCopyTreeMergesIntoExisting(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/src/a.txt", "a")
	writeFile(t, fs, "/src/nested/b.txt", "b")
	writeFile(t, fs, "/dst/keep.txt", "keep")

	res := New(WithFs(fs)).Run(context.Background(), Copy, map[string]string{"source": "/src", "destination": "/dst"})
	require.True(t, res.OK, res.Message)
	assert.Equal(t, "a", readFile(t, fs, "/dst/a.txt"))
	assert.Equal(t, "b", readFile(t, fs, "/dst/nested/b.txt"))
	assert.Equal(t, "keep", readFile(t, fs, "/dst/keep.txt"))
}

func TestRunCopyMissingSource(t *testing.T) {
	res := New(WithFs(afero.NewMemMapFs())).Run(context.Background(), Copy, map[string]string{"source": "/nope", "destination": "/b"})
	assert.False(t, res.OK)
	assert.NotEmpty(t, res.Message)
}

func TestRunMove(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/in/data.csv", "1,2,3")

	res := New(WithFs(fs)).Run(context.Background(), Move, map[string]string{"source": "/in/data.csv", "destination": "/archive/data.csv"})
	require.True(t, res.OK, res.Message)
	assert.Equal(t, "Move completed.", res.Message)
	assert.Equal(t, "1,2,3", readFile(t, fs, "/archive/data.csv"))

	exists, err := afero.Exists(fs, "/in/data.csv")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRunDelete(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/tmp/one.log", "x")
	writeFile(t, fs, "/tmp/dir/two.log", "y")
	e := New(WithFs(fs))

	res := e.Run(context.Background(), Delete, map[string]string{"target": "/tmp/one.log"})
	require.True(t, res.OK, res.Message)
	assert.Equal(t, "Delete completed.", res.Message)

	res = e.Run(context.Background(), Delete, map[string]string{"target": "/tmp/dir"})
	require.True(t, res.OK, res.Message)
	exists, _ := afero.DirExists(fs, "/tmp/dir")
	assert.False(t, exists)

	res = e.Run(context.Background(), Delete, map[string]string{"target": "/tmp/dir"})
	assert.False(t, res.OK)
}

func TestRunZipDirectory(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/site/index.html", "<html>")
	writeFile(t, fs, "/site/css/app.css", "body{}")

	res := New(WithFs(fs)).Run(context.Background(), Zip, map[string]string{"source": "/site", "destination": "/backups/site.zip"})
	require.True(t, res.OK, res.Message)
	assert.Equal(t, "Zip completed.", res.Message)

	f, err := fs.Open("/backups/site.zip")
	require.NoError(t, err)
	defer f.Close()
	info, err := f.Stat()
	require.NoError(t, err)

	zr, err := zip.NewReader(f, info.Size())
	require.NoError(t, err)
	var names []string
	for _, zf := range zr.File {
		names = append(names, zf.Name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{"css/app.css", "index.html"}, names)
}

func TestRunZipSingleFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/logs/app.log", "line")

	res := New(WithFs(fs)).Run(context.Background(), Zip, map[string]string{"source": "/logs/app.log", "destination": "/logs/app.zip"})
	require.True(t, res.OK, res.Message)

	f, err := fs.Open("/logs/app.zip")
	require.NoError(t, err)
	defer f.Close()
	info, err := f.Stat()
	require.NoError(t, err)
	zr, err := zip.NewReader(f, info.Size())
	require.NoError(t, err)
	require.Len(t, zr.File, 1)
	assert.Equal(t, "app.log", zr.File[0].Name)
}

func TestRunDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/gone" {
			w.WriteHeader(http.StatusGone)
			return
		}
		_, _ = w.Write([]byte("file body"))
	}))
	defer srv.Close()

	fs := afero.NewMemMapFs()
	e := New(WithFs(fs), WithHTTPClient(httpclient.New(httpclient.WithRetryWait(time.Millisecond))))

	res := e.Run(context.Background(), Download, map[string]string{"url": srv.URL + "/f", "destination": "/dl/f.bin"})
	require.True(t, res.OK, res.Message)
	assert.Equal(t, "Download completed.", res.Message)
	assert.Equal(t, "file body", readFile(t, fs, "/dl/f.bin"))

	res = e.Run(context.Background(), Download, map[string]string{"url": srv.URL + "/gone", "destination": "/dl/g.bin"})
	assert.False(t, res.OK)
	assert.Contains(t, res.Message, "HTTP 410")
	exists, _ := afero.Exists(fs, "/dl/g.bin")
	assert.True(t, exists, "failed download is not rolled back")
	assert.Empty(t, readFile(t, fs, "/dl/g.bin"))
}

func TestRunEmail(t *testing.T) {
	sender := &fakeMail{}
	e := New(WithMailSender(sender))
	params := map[string]string{
		"smtp_host": "smtp.example.com",
		"smtp_port": "587",
		"sender":    "robot@example.com",
		"recipient": "ops@example.com",
		"subject":   "backup",
		"body":      "done",
		"username":  "robot",
		"password":  "pw",
	}

	res := e.Run(context.Background(), Email, params)
	require.True(t, res.OK, res.Message)
	assert.Equal(t, "Email sent.", res.Message)
	assert.Equal(t, 587, sender.cfg.Port)
	assert.True(t, sender.cfg.UseTLS)
	assert.Equal(t, "robot", sender.cfg.Username)
	assert.Equal(t, []string{"backup"}, sender.msg.GetGenHeader(mail.HeaderSubject))

	params["use_tls"] = "FALSE"
	res = e.Run(context.Background(), Email, params)
	require.True(t, res.OK)
	assert.False(t, sender.cfg.UseTLS)

	params["smtp_port"] = "smtp"
	res = e.Run(context.Background(), Email, params)
	assert.False(t, res.OK)

	params["smtp_port"] = "25"
	sender.err = errors.New("connection reset")
	res = e.Run(context.Background(), Email, params)
	assert.False(t, res.OK)
	assert.Contains(t, res.Message, "connection reset")
}

func TestRunPowerCommands(t *testing.T) {
	runner := &fakeRunner{}
	res := New(WithCommandRunner(runner), WithGOOS("linux")).Run(context.Background(), Reboot, nil)
	require.True(t, res.OK)
	assert.Equal(t, "Reboot initiated.", res.Message)

	res = New(WithCommandRunner(runner), WithGOOS("windows")).Run(context.Background(), Shutdown, nil)
	require.True(t, res.OK)
	assert.Equal(t, "Shutdown initiated.", res.Message)

	require.Len(t, runner.commands, 2)
	assert.Equal(t, recordedCommand{name: "shutdown", args: []string{"-r", "now"}}, runner.commands[0])
	assert.Equal(t, recordedCommand{name: "shutdown", args: []string{"/s", "/t", "0"}}, runner.commands[1])
}

func TestRunVPNSplitsQuotedCommand(t *testing.T) {
	runner := &fakeRunner{}
	res := New(WithCommandRunner(runner)).Run(context.Background(), VPN, map[string]string{"command": `openvpn --config "/etc/vpn/my office.ovpn"`})
	require.True(t, res.OK, res.Message)
	assert.Equal(t, "VPN command executed.", res.Message)
	require.Len(t, runner.commands, 1)
	assert.Equal(t, "openvpn", runner.commands[0].name)
	assert.Equal(t, []string{"--config", "/etc/vpn/my office.ovpn"}, runner.commands[0].args)

	runner.err = errors.New("executable file not found")
	res = New(WithCommandRunner(runner)).Run(context.Background(), VPN, map[string]string{"command": "wg-quick up wg0"})
	assert.False(t, res.OK)
}

func TestRunWallpaper(t *testing.T) {
	fs := afero.NewMemMapFs()
	runner := &fakeRunner{}
	e := New(WithFs(fs), WithCommandRunner(runner), WithGOOS("linux"))

	res := e.Run(context.Background(), Wallpaper, map[string]string{"image_path": "/pics/sky.png"})
	assert.False(t, res.OK)
	assert.Equal(t, "Image path does not exist.", res.Message)
	assert.Empty(t, runner.commands)

	writeFile(t, fs, "/pics/sky.png", "png")
	res = e.Run(context.Background(), Wallpaper, map[string]string{"image_path": "/pics/sky.png"})
	require.True(t, res.OK, res.Message)
	assert.Equal(t, "Wallpaper updated.", res.Message)
	require.Len(t, runner.commands, 1)
	assert.Equal(t, "gsettings", runner.commands[0].name)
}
