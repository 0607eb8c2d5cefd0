// Package textutil normalizes names sent to DatoCMS upload requests.
package textutil
