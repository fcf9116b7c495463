// Package columnar turns a table's staged pages into one Parquet file.
//
// # Overview
//
// A Converter reads the staged pages of a table in page index order and
// streams the records into a Parquet writer from pkg/formats/columnar. Only
// one record is decoded at a time. A table without an explicit schema is
// read twice: one pass infers column types, the second writes.
//
// # Schemas
//
// When the source described the table's types up front (the v3 Main table's
// $metadata document) that schema is used to coerce every value. Otherwise
// a schema.Inferrer sees every record, so an int column holding one decimal
// anywhere in the table becomes float. Either way column names never
// contain ".": it is replaced with "_".
//
// # Output
//
// Files are written to a temporary name and renamed once the writer has been
// closed, so a failed conversion never leaves a partial file behind. Each
// page file is removed as soon as its records have been written. A table
// without any records produces no file.
//
// # Usage
//
//	conv := columnar.NewConverter(columnar.DefaultConverterConfig(), logger)
//	file, err := conv.Convert(ctx, artifact, columnar.Target{
//		DatasetID: "83583NED",
//		Version:   odata.V3,
//		Dir:       outputDir,
//		FileName:  "cbs.v3.83583NED_TypedDataSet.parquet",
//	})
//	if err != nil {
//		return err
//	}
//	if file == nil {
//		// empty table
//	}
package columnar
