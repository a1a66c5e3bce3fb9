// Command gen writes sample tables under testdata/ for trying pipeq
// against files:
//
//	go run ./testdata/gen
//	go run ./cmd/pipeq -t sales=testdata/sales.parquet 'cache=sales | stats sum(amount) by department'
package main

import (
	"encoding/csv"
	"log"
	"os"

	goavro "github.com/linkedin/goavro/v2"
	parquet "github.com/parquet-go/parquet-go"
)

type Sale struct {
	Name       string `parquet:"name"`
	Department string `parquet:"department"`
	Amount     int64  `parquet:"amount"`
}

var sales = []Sale{
	{"Alice", "Sales", 300},
	{"Bob", "IT", 250},
	{"Carol", "Sales", 100},
	{"Dave", "IT", 150},
	{"Eve", "IT", 200},
	{"Frank", "Legal", 50},
}

func main() {
	writeParquet("testdata/sales.parquet")
	writeAvro("testdata/sales.avro")
	writeCSV("testdata/departments.csv")
}

func writeParquet(path string) {
	f, err := os.Create(path)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()

	w := parquet.NewWriter(f)
	for _, s := range sales {
		if err := w.Write(s); err != nil {
			log.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		log.Fatal(err)
	}
}

func writeAvro(path string) {
	const schema = `{
		"type": "record",
		"name": "Sale",
		"fields": [
			{"name": "name", "type": "string"},
			{"name": "department", "type": "string"},
			{"name": "amount", "type": "long"}
		]
	}`

	f, err := os.Create(path)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()

	w, err := goavro.NewOCFWriter(goavro.OCFConfig{W: f, Schema: schema})
	if err != nil {
		log.Fatal(err)
	}
	records := make([]any, len(sales))
	for i, s := range sales {
		records[i] = map[string]any{
			"name":       s.Name,
			"department": s.Department,
			"amount":     s.Amount,
		}
	}
	if err := w.Append(records); err != nil {
		log.Fatal(err)
	}
}

func writeCSV(path string) {
	f, err := os.Create(path)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	rows := [][]string{
		{"department", "location", "floor"},
		{"Sales", "Berlin", "2"},
		{"IT", "Zurich", "3"},
		{"Legal", "Geneva", "4"},
		{"HR", "Vienna", "1"},
	}
	if err := w.WriteAll(rows); err != nil {
		log.Fatal(err)
	}
}
