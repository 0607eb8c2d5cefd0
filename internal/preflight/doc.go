// Package preflight provides readiness checks for the DatoCMS API and the
// local directories assetopt writes to.
//
// These checks run in two contexts:
//   - The run command calls RunAll after taking the run lock. If any check
//     fails, the batch does not start.
//   - The status command renders every Result for the operator.
package preflight
