// Package datocms is a small client for the DatoCMS Content Management API.
//
// It covers the two remote surfaces the optimizer needs: a lazily paginated
// catalog of image uploads filtered server-side by size, and the asset
// replacement protocol (upload slot, source fetch, pre-signed storage PUT,
// metadata commit, and job-result polling). Every failure is tagged with a
// services marker so callers can tell which step failed without parsing text.
package datocms
