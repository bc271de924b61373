package dispatch

import "os"

// tempCloneDir allocates an isolated temp workspace for a local clone,
// mirroring the resolver agent's "isolated temp workspace" requirement
// (spec 4.F step 4) reused here for the local-clone path.
func tempCloneDir() (string, error) {
	return os.MkdirTemp("", "cxoneflow-clone-*")
}

func cleanupDir(dir string) {
	_ = os.RemoveAll(dir)
}
