package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/jsf0/ncrypt/header"
)

// inspect prints the envelope header. No passphrase is needed and no
// ciphertext is read.
func inspect(in io.Reader, out io.Writer) error {
	stream, format, err := openStream(in)
	if err != nil {
		return err
	}

	hdr, err := header.Decode(stream, nil)
	if err != nil {
		return fmt.Errorf("failed to read header: %w", err)
	}
	defer hdr.Release()

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "format:\t%s\n", format)
	fmt.Fprintf(tw, "version:\t%d\n", hdr.Version())
	fmt.Fprintf(tw, "data header version:\t%d\n", hdr.Data().HeaderVersion())
	fmt.Fprintf(tw, "data algorithm:\t%s\n", hdr.Data().Algorithm())
	fmt.Fprintf(tw, "null payload:\t%t\n", hdr.IsNull())
	fmt.Fprintf(tw, "key header version:\t%d\n", hdr.Key().HeaderVersion())
	fmt.Fprintf(tw, "key algorithm:\t%s\n", hdr.Key().Algorithm())
	fmt.Fprintf(tw, "wrapped key:\t%d bytes\n", hdr.WrappedKey().Len())
	return tw.Flush()
}
