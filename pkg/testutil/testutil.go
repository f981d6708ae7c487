// Package testutil provides shared test fixtures: a quiet test logger
// and deterministic VCF synthesis.
package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// Logger returns a zap logger wired to the test's log output.
func Logger(t *testing.T) *zap.Logger {
	t.Helper()
	return zaptest.NewLogger(t, zaptest.Level(zap.WarnLevel))
}

// Header is the fixed header of synthesized test files: two contigs,
// two filters, three INFO fields, two FORMAT fields, two samples.
const Header = `##fileformat=VCFv4.3
##contig=<ID=chr1,length=248956422>
##contig=<ID=chr2,length=242193529>
##FILTER=<ID=PASS,Description="All filters passed">
##FILTER=<ID=q10,Description="Quality below 10">
##INFO=<ID=DP,Number=1,Type=Integer,Description="Total depth">
##INFO=<ID=AF,Number=A,Type=Float,Description="Allele frequency">
##INFO=<ID=DB,Number=0,Type=Flag,Description="dbSNP membership">
##FORMAT=<ID=GT,Number=1,Type=String,Description="Genotype">
##FORMAT=<ID=DP,Number=1,Type=Integer,Description="Read depth">
#CHROM	POS	ID	REF	ALT	QUAL	FILTER	INFO	FORMAT	s0	s1
`

// Record renders the i-th synthetic record. Records cycle through the
// awkward cases: missing IDs, multi-allelic sites, missing quality,
// failing filters, flag INFO fields, and missing or mixed genotypes.
func Record(i int) string {
	chrom := "chr1"
	if i%2 == 1 {
		chrom = "chr2"
	}
	id := "."
	if i%3 == 0 {
		id = fmt.Sprintf("rs%d", 1000+i)
	}
	alt := "T"
	if i%5 == 0 {
		alt = "T,C"
	}
	qual := fmt.Sprintf("%d.5", 20+i%30)
	if i%7 == 0 {
		qual = "."
	}
	filter := "PASS"
	if i%11 == 0 {
		filter = "q10"
	}
	info := fmt.Sprintf("DP=%d;AF=0.%03d", 10+i%90, i%1000)
	if i%4 == 0 {
		info += ";DB"
	}
	gt0 := "0/1"
	switch i % 6 {
	case 1:
		gt0 = "1|1"
	case 2:
		gt0 = "./."
	case 3:
		gt0 = "0/1/1"
	}
	calls := fmt.Sprintf("%s:%d\t0|0:%d", gt0, 5+i%50, 8+i%40)
	return fmt.Sprintf("%s\t%d\t%s\tA\t%s\t%s\t%s\t%s\tGT:DP\t%s\n",
		chrom, 100+i*10, id, alt, qual, filter, info, calls)
}

// WriteVCF writes a synthetic file with n records into dir and
// returns its path.
func WriteVCF(t *testing.T, dir string, n int) string {
	t.Helper()
	var sb strings.Builder
	sb.WriteString(Header)
	for i := 0; i < n; i++ {
		sb.WriteString(Record(i))
	}
	path := filepath.Join(dir, "test.vcf")
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		t.Fatalf("write test vcf: %v", err)
	}
	return path
}

// WriteVCFGz writes the same synthetic content gzip-compressed.
func WriteVCFGz(t *testing.T, dir string, n int) string {
	t.Helper()
	path := filepath.Join(dir, "test.vcf.gz")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create gzip vcf: %v", err)
	}
	zw := gzip.NewWriter(f)
	if _, err := zw.Write([]byte(Header)); err != nil {
		t.Fatalf("write gzip header: %v", err)
	}
	for i := 0; i < n; i++ {
		if _, err := zw.Write([]byte(Record(i))); err != nil {
			t.Fatalf("write gzip record: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close gzip writer: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close gzip file: %v", err)
	}
	return path
}
