// Package weight implements the region compaction priority formula:
//
//	weight = (1 - locality) * LocalityFactor
//	       + max(0, sizeMB) / SizeDivisor * (storeFiles * FileCountFactor)
//
// Regions below MinSizeMB always weigh 0. Ties are broken by region id so
// sorted plans are reproducible.
package weight
