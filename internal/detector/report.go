package detector

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// WriteReport prints every cluster as "master : [members]" followed by the
// total number of stored documents.
func (d *Detector) WriteReport(ctx context.Context, w io.Writer) error {
	clusters, err := d.Clusters(ctx)
	if err != nil {
		return err
	}
	n, err := d.NumberOfDocuments(ctx)
	if err != nil {
		return err
	}
	var b strings.Builder
	b.WriteString("---------- similar documents -----------\n")
	for _, c := range clusters {
		fmt.Fprintf(&b, "%d : %v\n", c.Master, c.Members)
	}
	b.WriteString("----------------------------------------\n")
	fmt.Fprintf(&b, "# of total documents %d\n", n)
	_, err = io.WriteString(w, b.String())
	return err
}
