package merge

// Validate runs the pre-merge invariant checks of §4.10 against source
// before any rewrite begins; Merge calls it after the confirmation scan,
// whose results it needs. targetPartitions maps a source key that also
// exists in the target to the target's partition tuple for that key, so the
// source's own partition values can be checked for drift; callers without
// target information (e.g. a dry validate) may pass a nil map.
func Validate(source Batch, strategy Strategy, targetPartitions map[Key128]map[string]string) error {
	if !strategy.valid() {
		return &InvalidArgumentError{Reason: "unknown strategy " + string(strategy)}
	}
	if (strategy == Update || strategy == Upsert) && len(source.KeyColumns) == 0 {
		return &InvalidArgumentError{Reason: ErrEmptyKeyColumns.Error()}
	}

	keyIdx, err := source.KeyColumnIndexes()
	if err != nil {
		return err
	}
	partIdx := source.PartitionColumnIndexes()
	partNames := make([]string, len(partIdx))
	for i, idx := range partIdx {
		partNames[i] = source.Schema.Fields[idx].Name
	}

	for rowNum, row := range source.Rows {
		for _, idx := range keyIdx {
			if row[idx] == nil {
				return &NullKeyError{Column: source.Schema.Fields[idx].Name, Row: rowNum}
			}
		}
	}

	if targetPartitions != nil && len(partIdx) > 0 {
		for _, row := range source.Rows {
			key := EncodeKey(source.Schema, keyIdx, row)
			targetVals, ok := targetPartitions[key]
			if !ok {
				continue
			}
			for i, idx := range partIdx {
				field := source.Schema.Fields[idx]
				sourceVal := valueToPartitionString(field.Type, row[idx])
				targetVal := targetVals[partNames[i]]
				if sourceVal != targetVal {
					return &PartitionMoveError{
						Key:             partitionKeyLabel(source.Schema, keyIdx, row),
						PartitionColumn: partNames[i],
						SourceValue:     sourceVal,
						TargetValue:     targetVal,
					}
				}
			}
		}
	}

	return nil
}

// partitionKeyLabel renders a row's key columns as a human-readable label
// for error messages.
func partitionKeyLabel(schema Schema, keyIdx []int, row Row) string {
	label := ""
	for i, idx := range keyIdx {
		if i > 0 {
			label += ","
		}
		f := schema.Fields[idx]
		label += valueToPartitionString(f.Type, row[idx])
	}
	return label
}

// typesCompatible reports whether a source field's declared type and a
// target field's type describe the same on-disk representation. Equality
// covers the common case; TypeDecimal and TypeTimestamp are additionally
// accepted against TypeInt64 because InferSchema (used to recover a
// target file's schema from its own footer when the caller has no
// independent schema for it) cannot distinguish a decimal- or
// timestamp-scaled int64 column from a plain one and always reports
// TypeInt64 for it — treating that as a mismatch would reject every
// legitimately compatible dataset using those logical types.
func typesCompatible(a, b LogicalType) bool {
	if a == b {
		return true
	}
	widened := func(t LogicalType) LogicalType {
		if t == TypeDecimal || t == TypeTimestamp {
			return TypeInt64
		}
		return t
	}
	return widened(a) == widened(b)
}

// ValidateSchemaCompatible checks that target and source share compatible
// fields: every target field (other than path-only partition columns) must
// exist in source by name with an assignable type.
func ValidateSchemaCompatible(source Schema, target Schema, partitionColumns []string) error {
	pathOnly := make(map[string]struct{}, len(partitionColumns))
	for _, c := range partitionColumns {
		if target.IndexOf(c) < 0 {
			pathOnly[c] = struct{}{}
		}
	}
	for _, tf := range target.Fields {
		si := source.IndexOf(tf.Name)
		if si < 0 {
			if _, ok := pathOnly[tf.Name]; ok {
				continue
			}
			return &SchemaError{Reason: "target column " + tf.Name + " missing from source"}
		}
		if !typesCompatible(source.Fields[si].Type, tf.Type) {
			return &SchemaError{Reason: "column " + tf.Name + " type mismatch: source " +
				source.Fields[si].Type.String() + " vs target " + tf.Type.String()}
		}
	}
	for _, c := range partitionColumns {
		if source.IndexOf(c) < 0 {
			if _, ok := pathOnly[c]; !ok {
				return &SchemaError{Reason: "partition column " + c + " missing from source"}
			}
		}
	}
	return nil
}
