// Package catalog provides read-only lookups against the customer and
// product directories. The allocation engine only resolves names and prices;
// directory maintenance belongs to the surrounding administration system.
package catalog

// Customer is the directory view of a customer.
type Customer struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	DocumentNumber string `json:"document_number"`
}

// Product is the directory view of a product.
type Product struct {
	ID        int64   `json:"id"`
	Name      string  `json:"name"`
	UnitPrice float64 `json:"unit_price"`
}
