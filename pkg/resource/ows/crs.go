package ows

import (
	"strconv"
	"strings"
)

// ParseSRID extracts the EPSG code from the CRS spellings OGC services
// use: "EPSG:4326", "CRS:84", "urn:ogc:def:crs:EPSG::4326" and
// "http://www.opengis.net/def/crs/EPSG/0/4326". Unknown forms give 0.
func ParseSRID(crs string) int {
	c := strings.TrimSpace(crs)
	upper := strings.ToUpper(c)
	switch {
	case upper == "CRS:84", strings.HasSuffix(upper, "/CRS84"), strings.HasSuffix(upper, ":CRS84"):
		return 4326
	case strings.HasPrefix(upper, "HTTP://") || strings.HasPrefix(upper, "HTTPS://"):
		if !strings.Contains(upper, "/EPSG/") {
			return 0
		}
		return atoi(c[strings.LastIndex(c, "/")+1:])
	case strings.Contains(upper, "EPSG"):
		return atoi(c[strings.LastIndex(c, ":")+1:])
	}
	return 0
}

// CRSName renders srid as EPSG:<code>.
func CRSName(srid int) string {
	if srid <= 0 {
		return ""
	}
	return "EPSG:" + strconv.Itoa(srid)
}

func atoi(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
