package action

import (
	"context"
	"os/exec"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/kballard/go-shellquote"

	"github.com/kylemclaren/local-tasks/internal/mailer"
)

func (e *Executor) email(ctx context.Context, params map[string]string) Result {
	port, err := strconv.Atoi(params["smtp_port"])
	if err != nil || port <= 0 {
		return failure(errors.Newf("invalid smtp_port %q", params["smtp_port"]))
	}
	cfg := mailer.Config{
		Host:     params["smtp_host"],
		Port:     port,
		Username: params["username"],
		Password: params["password"],
		Sender:   params["sender"],
		UseTLS:   !strings.EqualFold(params["use_tls"], "false"),
	}
	msg, err := mailer.Message(params["sender"], params["recipient"], params["subject"], params["body"])
	if err != nil {
		return failure(err)
	}
	if err := e.mail.Send(ctx, cfg, msg); err != nil {
		return failure(err)
	}
	return done("Email sent.")
}

func (e *Executor) wallpaper(ctx context.Context, path string) Result {
	if _, err := e.fs.Stat(path); err != nil {
		return Result{Message: "Image path does not exist."}
	}
	for _, cmd := range wallpaperCommands(e.goos, path) {
		if err := e.runner.Run(ctx, cmd[0], cmd[1:]...); err != nil {
			return Result{Message: "Wallpaper update failed: " + err.Error()}
		}
	}
	return done("Wallpaper updated.")
}

func wallpaperCommands(goos, path string) [][]string {
	switch goos {
	case "windows":
		return [][]string{
			{"reg", "add", `HKCU\Control Panel\Desktop`, "/v", "Wallpaper", "/t", "REG_SZ", "/d", path, "/f"},
			{"rundll32.exe", "user32.dll,UpdatePerUserSystemParameters"},
		}
	case "darwin":
		script := `tell application "System Events" to tell every desktop to set picture to ` + strconv.Quote(path)
		return [][]string{{"osascript", "-e", script}}
	default:
		return [][]string{{"gsettings", "set", "org.gnome.desktop.background", "picture-uri", "file://" + path}}
	}
}

func (e *Executor) power(ctx context.Context, reboot bool) Result {
	args := powerArgs(e.goos, reboot)
	if err := e.runStarted(ctx, args); err != nil {
		return failure(err)
	}
	if reboot {
		return done("Reboot initiated.")
	}
	return done("Shutdown initiated.")
}

func powerArgs(goos string, reboot bool) []string {
	if goos == "windows" {
		if reboot {
			return []string{"shutdown", "/r", "/t", "0"}
		}
		return []string{"shutdown", "/s", "/t", "0"}
	}
	if reboot {
		return []string{"shutdown", "-r", "now"}
	}
	return []string{"shutdown", "-h", "now"}
}

func (e *Executor) vpn(ctx context.Context, command string) Result {
	args, err := shellquote.Split(command)
	if err != nil {
		return failure(errors.Wrap(err, "invalid vpn command"))
	}
	if len(args) == 0 {
		return Result{Message: "Missing command."}
	}
	if err := e.runStarted(ctx, args); err != nil {
		return failure(err)
	}
	return done("VPN command executed.")
}

// runStarted treats a non-zero exit as success; only a failure to start counts.
func (e *Executor) runStarted(ctx context.Context, args []string) error {
	err := e.runner.Run(ctx, args[0], args[1:]...)
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}
