// Package vcz converts VCF variant data into chunked, compressed
// columnar array stores.
//
// Conversion runs in two stages. Explode transposes the row-oriented
// VCF records into an intermediate columnar store: one compressed
// column per VCF field, split into partitions that convert
// independently, so the stage parallelizes within a process or
// distributes across machines with nothing but a shared filesystem.
// Encode then reads the sealed intermediate store and writes the
// final array store, with dtypes and chunk geometry controlled by an
// editable schema document.
//
// The vcz command wraps both stages, the distributed explode
// operations, schema generation, direct conversion, and store
// inspection:
//
//	vcz explode samples.vcf staged.icf
//	vcz mkschema staged.icf > schema.json
//	vcz encode -s schema.json staged.icf out.vcz
//
// The library entry points are icf.Explode, schema.Generate, and
// encoder.Encode.
package vcz
