package preflight

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"optibatch/internal/config"
	"optibatch/internal/quota"
	"optibatch/internal/services"
)

const remoteCheckName = "Content server"

// QuotaSource is the remote call used to check connectivity and auth.
type QuotaSource interface {
	Quota(ctx context.Context) (quota.State, error)
}

// CheckRemoteConfig verifies the remote section is filled in.
func CheckRemoteConfig(cfg *config.Config) Result {
	switch {
	case strings.TrimSpace(cfg.Remote.BaseURL) == "":
		return Result{Name: remoteCheckName, Detail: "missing remote.base_url"}
	case strings.TrimSpace(cfg.Remote.Token) == "":
		return Result{Name: remoteCheckName, Detail: "missing remote.token (or OPTIBATCH_REMOTE_TOKEN)"}
	}
	return Result{Name: remoteCheckName, Passed: true, Detail: "configured"}
}

// CheckRemote verifies the content server is reachable and accepts the
// token. It uses a 10-second timeout and a single attempt.
func CheckRemote(ctx context.Context, client QuotaSource) Result {
	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	state, err := client.Quota(checkCtx)
	if err != nil {
		return Result{Name: remoteCheckName, Detail: summarizeRemoteError(err)}
	}
	detail := "reachable (pro tier)"
	if !state.Pro {
		detail = fmt.Sprintf("reachable (%d of %d operations remaining)", state.Remaining, state.Limit)
	}
	return Result{Name: remoteCheckName, Passed: true, Detail: detail}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

func summarizeRemoteError(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, services.ErrTimeout):
		return "timed out (content server unresponsive)"
	case errors.Is(err, services.ErrUnauthorized):
		return "auth failed (check remote.token)"
	case errors.Is(err, services.ErrNotFound):
		return "quota endpoint not found (check remote.base_url)"
	case errors.Is(err, services.ErrTransient):
		return fmt.Sprintf("unreachable (%v)", err)
	default:
		return err.Error()
	}
}
