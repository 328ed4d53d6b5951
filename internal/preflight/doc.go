// Package preflight provides readiness checks for the filesystem paths,
// disk space, and ComfyUI connectivity that easel depends on.
//
// These checks run in two contexts:
//   - The daemon calls RunAll once at startup and logs any failures before
//     the workflow manager begins pulling jobs.
//   - The CLI "easel status" command uses individual check functions
//     (CheckComfy, CheckDirectoryAccess) to display service health.
//
// Each check is gated by its config toggle -- disabled features are skipped.
package preflight
