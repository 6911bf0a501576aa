package fmtt

import (
	"errors"
	"fmt"
	"io"
	"reflect"

	"github.com/davecgh/go-spew/spew"
)

// dumper keeps dumps readable: no pointer addresses, sorted map keys, and
// Stringer/error methods are not called so raw values show.
var dumper = spew.ConfigState{
	Indent:                  "  ",
	DisablePointerAddresses: true,
	DisableCapacities:       true,
	DisableMethods:          true,
	SortKeys:                true,
}

// Dump writes a deep, typed dump of v to w (e.g. the effective config).
func Dump(w io.Writer, v any) {
	dumper.Fdump(w, v)
}

// PrintErrChain walks an error chain and prints each layer with its type.
// Joined errors are walked depth-first.
func PrintErrChain(w io.Writer, err error) {
	if err == nil {
		fmt.Fprintln(w, "<nil>")
		return
	}
	printChain(w, err, "")
}

func printChain(w io.Writer, err error, indent string) {
	for i := 0; err != nil; i++ {
		fmt.Fprintf(w, "%s[%d] %T: %v\n", indent, i, err, err)
		if j, ok := err.(interface{ Unwrap() []error }); ok {
			for _, e := range j.Unwrap() {
				printChain(w, e, indent+"    ")
			}
			return
		}
		err = errors.Unwrap(err)
	}
}

// PrintErrChainDebug is PrintErrChain plus a spew dump and the exported
// struct fields of every layer.
func PrintErrChainDebug(w io.Writer, err error) {
	for i := 0; err != nil; err = errors.Unwrap(err) {
		fmt.Fprintf(w, "[%d] %T\n", i, err)
		fmt.Fprintf(w, "   Error(): %v\n", err)
		dumper.Fdump(w, err)

		rv := reflect.ValueOf(err)
		rt := rv.Type()
		if rt.Kind() == reflect.Ptr {
			rv, rt = rv.Elem(), rt.Elem()
		}
		if rt.Kind() == reflect.Struct {
			for j := 0; j < rt.NumField(); j++ {
				if f, v := rt.Field(j), rv.Field(j); v.CanInterface() {
					fmt.Fprintf(w, "   Field %s (%s): %+v\n", f.Name, f.Type, v.Interface())
				}
			}
		}
		i++
	}
}
