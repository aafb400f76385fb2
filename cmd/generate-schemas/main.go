// generate-schemas writes the BigQuery schema of the archived echo
// records, for the datatype autoloader.
package main

import (
	"flag"
	"io/ioutil"

	"github.com/m-lab/go/cloud/bqx"
	"github.com/m-lab/go/rtx"

	"github.com/m-lab/echo-probe/roundtrip"

	"cloud.google.com/go/bigquery"
)

var (
	echo1schema string
)

func init() {
	flag.StringVar(&echo1schema, "echo1", "/var/spool/datatypes/echo1.json", "filename to write echo1 schema")
}

func main() {
	flag.Parse()
	// Generate and save the echo1 schema for autoloading.
	row := roundtrip.Result{}
	sch, err := bigquery.InferSchema(row)
	rtx.Must(err, "failed to generate echo1 schema")
	sch = bqx.RemoveRequired(sch)
	b, err := sch.ToJSONFields()
	rtx.Must(err, "failed to marshal schema")
	ioutil.WriteFile(echo1schema, b, 0o644)
}
