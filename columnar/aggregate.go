package columnar

// Full-column aggregates scan exactly one column's flat array in a single
// pass: O(rows) time, O(1) extra space.

// Count returns the number of rows in the table.
func (t *Table) Count() int {
	return t.rows
}

// Sum returns the sum of a numeric column.
func (t *Table) Sum(name string) (float64, error) {
	c, err := t.numericColumn(name, "Sum")
	if err != nil {
		return 0, err
	}

	var total float64
	if c.def.Type == TypeInt32 {
		for _, v := range c.i32 {
			total += float64(v)
		}
	} else {
		for _, v := range c.f64 {
			total += v
		}
	}
	return total, nil
}

// Avg returns the mean of a numeric column; 0 for an empty table.
func (t *Table) Avg(name string) (float64, error) {
	total, err := t.Sum(name)
	if err != nil {
		return 0, err
	}
	if t.rows == 0 {
		return 0, nil
	}
	return total / float64(t.rows), nil
}

// Min returns the minimum of a numeric column; 0 for an empty table.
func (t *Table) Min(name string) (float64, error) {
	c, err := t.numericColumn(name, "Min")
	if err != nil {
		return 0, err
	}
	if t.rows == 0 {
		return 0, nil
	}

	min := c.numericAt(0)
	for i := 1; i < t.rows; i++ {
		if v := c.numericAt(i); v < min {
			min = v
		}
	}
	return min, nil
}

// Max returns the maximum of a numeric column; 0 for an empty table.
func (t *Table) Max(name string) (float64, error) {
	c, err := t.numericColumn(name, "Max")
	if err != nil {
		return 0, err
	}
	if t.rows == 0 {
		return 0, nil
	}

	max := c.numericAt(0)
	for i := 1; i < t.rows; i++ {
		if v := c.numericAt(i); v > max {
			max = v
		}
	}
	return max, nil
}

// CountMasked returns the number of rows whose mask bit is set.
func (t *Table) CountMasked(mask *Mask) (int, error) {
	if err := t.checkMask(mask, "CountMasked"); err != nil {
		return 0, err
	}
	return mask.Count(), nil
}

// SumMasked sums a numeric column restricted to rows whose mask bit is set,
// in a single pass with no intermediate row materialization.
func (t *Table) SumMasked(name string, mask *Mask) (float64, error) {
	c, err := t.numericColumn(name, "SumMasked")
	if err != nil {
		return 0, err
	}
	if err := t.checkMask(mask, "SumMasked"); err != nil {
		return 0, err
	}

	var total float64
	for i := 0; i < t.rows; i++ {
		if mask.Get(i) {
			total += c.numericAt(i)
		}
	}
	return total, nil
}
