// Package launcher composes a service's mounts, environment, and
// arguments and creates it on the container engine.
package launcher

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/shambakey1/vifinode/pkg/admission"
	"github.com/shambakey1/vifinode/pkg/manifest"
	"github.com/shambakey1/vifinode/pkg/registry"
	"github.com/shambakey1/vifinode/pkg/runtime"
	"github.com/shambakey1/vifinode/pkg/siteconfig"
	"github.com/shambakey1/vifinode/pkg/vifierrors"
)

// Launch composes the service's container spec and creates it with
// the engine, under the name contract of I5: the first iteration uses
// the base service name, later iterations compose "<base>_<cur_iter>".
func Launch(
	ctx context.Context,
	engine runtime.ContainerEngine,
	reg *registry.Registry,
	site *siteconfig.Site,
	domainName, requestDir, requestName, serviceName string,
	svc *manifest.Service,
	decision admission.Decision,
) (string, error) {
	domain, ok := site.Domain(domainName)
	if !ok {
		return "", &vifierrors.Bug{Msg: fmt.Sprintf("unknown domain %s", domainName)}
	}

	composedName := manifest.ComposedName(serviceName, svc.Iterative.CurIter)

	if conflict, err := reg.NameConflict(composedName); err != nil {
		return "", &vifierrors.LaunchError{Service: composedName, Err: err}
	} else if conflict {
		return "", &vifierrors.LaunchError{Service: composedName, Err: fmt.Errorf("name already in use: %s", composedName)}
	}

	containerDir := svc.ContainerDir
	if containerDir == "" {
		containerDir = "/" + filepath.Base(requestName)
	}

	mounts := []runtime.Mount{
		{Source: requestDir, Destination: containerDir, Mode: "rw"},
	}
	for name, dm := range svc.Data {
		dataDir, ok := domain.DataDirs[name]
		if !ok {
			continue
		}
		mounts = append(mounts, runtime.Mount{
			Source:      dataDir.Path,
			Destination: dm.ContainerDataPath,
			Mode:        dm.Mode,
		})
	}
	for _, mnt := range svc.Mnts {
		rel := strings.TrimPrefix(mnt, string(filepath.Separator))
		mounts = append(mounts, runtime.Mount{
			Source:      filepath.Join(requestDir, rel),
			Destination: filepath.Join(containerDir, rel),
			Mode:        "rw",
		})
	}

	env := []string{
		"MY_TASK_ID={{.Task.Name}}",
		"SCRIPTFILE=" + svc.Script,
		fmt.Sprintf("ttl=%d", decision.TTLSecs),
	}
	env = append(env, svc.Envs...)

	args := append([]string{svc.Script}, svc.Args...)

	spec := runtime.ServiceSpec{
		Name:          composedName,
		Image:         svc.Image,
		Replicas:      decision.Replicas,
		Mounts:        mounts,
		WorkDir:       svc.WorkDir,
		Env:           env,
		Command:       svc.CmdEng,
		Args:          args,
		RestartPolicy: "on-failure",
		User:          domain.Docker.User,
		Groups:        domain.Docker.Groups,
	}

	id, err := engine.CreateService(ctx, spec)
	if err != nil {
		return "", &vifierrors.LaunchError{Service: composedName, Err: err}
	}

	if err := reg.RegisterName(composedName); err != nil {
		return "", &vifierrors.LaunchError{Service: composedName, Err: err}
	}

	return id, nil
}
