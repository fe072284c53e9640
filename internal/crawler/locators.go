package crawler

import (
	"fmt"

	"github.com/JakeFAU/car-listing-crawler/internal/extract"
)

// FieldLocators holds the ranked locator lists for each field. Listing
// locators are evaluated inside one item fragment; detail locators against a
// whole vehicle page.
type FieldLocators struct {
	Items   []string `mapstructure:"items"`
	URL     []string `mapstructure:"url"`
	Title   []string `mapstructure:"title"`
	Price   []string `mapstructure:"price"`
	Mileage []string `mapstructure:"mileage"`
	Year    []string `mapstructure:"year"`

	DetailTitle   []string `mapstructure:"detail_title"`
	DetailPrice   []string `mapstructure:"detail_price"`
	DetailMileage []string `mapstructure:"detail_mileage"`
}

// DefaultFieldLocators returns the locators observed across the site's
// listing and detail templates.
func DefaultFieldLocators() FieldLocators {
	return FieldLocators{
		Items: []string{
			"div.listing-item.card:not(.advert-fuse)",
			".listing-items .listing-item:not(.advert-fuse)",
		},
		URL: []string{
			".card-header a.js-encode-search::attr(data-href)",
			"h3 a::attr(href)",
			"a.js-encode-search::attr(href)",
		},
		Title: []string{
			"h3 a::text",
			"h3 a",
			".card-title",
		},
		Price: []string{
			"::attr(data-webm-price)",
			".price::text",
			".price-value::text",
			".item-price .price::text",
			".vehicle-price::text",
		},
		Mileage: []string{
			`li[data-type="Odometer"]::text`,
			`.key-details__value[data-type="Odometer"]::text`,
			`.//li[contains(@class,"key-details__item")][contains(.,"Kilómetros")]//*[contains(@class,"key-details__value")]`,
			".listing-item__specs--mileage::text",
		},
		Year: []string{
			`.//li[contains(@class,"key-details__item")][contains(.,"Año")]//*[contains(@class,"key-details__value")]`,
		},
		DetailTitle: []string{
			"h1::text",
			"h1",
		},
		DetailPrice: []string{
			".price::text",
			".price-value::text",
			".item-price .price::text",
			".vehicle-price::text",
		},
		DetailMileage: []string{
			`[data-type="Odometer"]::text`,
			`.key-details__value[data-type="Odometer"]::text`,
			".vehicle-mileage::text",
			".mileage::text",
			".details-list__value::text",
			".vehicle-details__item--mileage::text",
			`.details__item-value[data-test="mileage"]::text`,
			".listing-item__specs--mileage::text",
			`//span[contains(text(),"Kilometraje")]/following-sibling::span/text()`,
			`//div[contains(@class,"mileage")]//text()`,
			`.specs-list__item:contains("Kilometraje") .specs-list__value::text`,
		},
	}
}

type compiledLocators struct {
	items, url, title, price, mileage, year []extract.Locator
	detailTitle, detailPrice, detailMileage []extract.Locator
}

// compile parses every list, falling back to the default list for any field
// left empty.
func (f FieldLocators) compile() (compiledLocators, error) {
	defaults := DefaultFieldLocators()
	var (
		out compiledLocators
		err error
	)
	fields := []struct {
		name string
		raw  []string
		def  []string
		dst  *[]extract.Locator
	}{
		{"items", f.Items, defaults.Items, &out.items},
		{"url", f.URL, defaults.URL, &out.url},
		{"title", f.Title, defaults.Title, &out.title},
		{"price", f.Price, defaults.Price, &out.price},
		{"mileage", f.Mileage, defaults.Mileage, &out.mileage},
		{"year", f.Year, defaults.Year, &out.year},
		{"detail_title", f.DetailTitle, defaults.DetailTitle, &out.detailTitle},
		{"detail_price", f.DetailPrice, defaults.DetailPrice, &out.detailPrice},
		{"detail_mileage", f.DetailMileage, defaults.DetailMileage, &out.detailMileage},
	}
	for _, field := range fields {
		raw := field.raw
		if len(raw) == 0 {
			raw = field.def
		}
		if *field.dst, err = extract.ParseLocators(raw); err != nil {
			return compiledLocators{}, fmt.Errorf("locators.%s: %w", field.name, err)
		}
	}
	return out, nil
}

// Validate reports the first locator that fails to compile.
func (f FieldLocators) Validate() error {
	_, err := f.compile()
	return err
}
