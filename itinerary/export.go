package itinerary

import (
	"bytes"
	"fmt"
	"log"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"
	"github.com/julienschmidt/httprouter"
	"github.com/phpdave11/gofpdf"
	"github.com/samber/lo"
	"github.com/skip2/go-qrcode"

	"tripsync/models"
)

const floatingStamp = "20060102T150405"

var durationPartRe = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(hours?|hrs?|h|minutes?|mins?|m)\b`)

// Calendar renders every timed item as an event in floating local time.
// Untimed items are left out.
func Calendar(doc models.Itinerary, stamp time.Time) string {
	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId("-//tripsync//itinerary//EN")
	cal.SetXWRCalName(doc.Destination)

	for _, day := range doc.Days {
		date, err := time.Parse(models.DateLayout, day.Date)
		if err != nil {
			continue
		}
		for _, item := range day.Items {
			if !clockRe.MatchString(item.Time) {
				continue
			}
			h, _ := strconv.Atoi(item.Time[:2])
			m, _ := strconv.Atoi(item.Time[3:])
			start := date.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)

			ev := cal.AddEvent(item.ID + "@tripsync")
			ev.SetDtStampTime(stamp)
			ev.SetProperty(ics.ComponentPropertyDtStart, start.Format(floatingStamp))
			ev.SetProperty(ics.ComponentPropertyDtEnd, start.Add(ParseDuration(item.Duration)).Format(floatingStamp))
			ev.SetSummary(item.Title)
			if item.Description != "" {
				ev.SetDescription(item.Description)
			}
			if item.Location != "" {
				ev.SetLocation(item.Location)
			}
			if item.BookingLink != "" {
				ev.SetURL(item.BookingLink)
			}
		}
	}
	return cal.Serialize()
}

// ParseDuration reads the first amount with a unit in texts like "3 hours" or
// "90 min", falling back to one hour.
func ParseDuration(s string) time.Duration {
	m := durationPartRe.FindStringSubmatch(s)
	if m == nil {
		return time.Hour
	}
	n, err := strconv.ParseFloat(m[1], 64)
	if err != nil || n <= 0 {
		return time.Hour
	}
	if strings.HasPrefix(strings.ToLower(m[2]), "h") {
		return time.Duration(n * float64(time.Hour))
	}
	return time.Duration(n * float64(time.Minute))
}

// QRCode encodes a share URL as a PNG.
func QRCode(url string, size int) ([]byte, error) {
	return qrcode.Encode(url, qrcode.Medium, size)
}

// PDF prints the plan day by day. A share URL adds its QR code to the header.
func PDF(doc models.Itinerary, shareURL string) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle(tr(doc.Destination), false)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 18)
	pdf.Cell(0, 10, tr(doc.Destination))
	pdf.Ln(9)
	pdf.SetFont("Arial", "", 11)
	pdf.Cell(0, 6, fmt.Sprintf("%s to %s", doc.StartDate, doc.EndDate))
	pdf.Ln(12)

	if shareURL != "" {
		png, err := QRCode(shareURL, 256)
		if err != nil {
			return nil, err
		}
		imageOpts := gofpdf.ImageOptions{ImageType: "PNG"}
		pdf.RegisterImageOptionsReader("share", imageOpts, bytes.NewReader(png))
		pdf.ImageOptions("share", 165, 10, 30, 30, false, imageOpts, 0, "")
	}

	for _, day := range doc.Days {
		pdf.SetFont("Arial", "B", 13)
		pdf.Cell(0, 8, tr(fmt.Sprintf("%s  (%s)", day.Title, day.Date)))
		pdf.Ln(9)
		if len(day.Items) == 0 {
			pdf.SetFont("Arial", "I", 10)
			pdf.Cell(0, 6, "Free day")
			pdf.Ln(8)
			continue
		}
		for _, item := range day.Items {
			pdf.SetFont("Arial", "B", 11)
			pdf.Cell(0, 6, tr(strings.TrimSpace(DisplayTime(item.Time)+"  "+item.Title)))
			pdf.Ln(6)
			pdf.SetFont("Arial", "", 10)
			if item.Description != "" {
				pdf.MultiCell(0, 5, tr(item.Description), "", "L", false)
			}
			if details := itemDetails(item); details != "" {
				pdf.SetFont("Arial", "I", 9)
				pdf.MultiCell(0, 5, tr(details), "", "L", false)
			}
			pdf.Ln(3)
		}
		pdf.Ln(4)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func itemDetails(item models.ItineraryItem) string {
	var parts []string
	if item.Duration != "" {
		parts = append(parts, "Duration: "+item.Duration)
	}
	if item.Location != "" {
		parts = append(parts, "Location: "+item.Location)
	}
	if len(item.Includes) > 0 {
		parts = append(parts, "Included: "+strings.Join(item.Includes, ", "))
	}
	if len(item.WhatToBring) > 0 {
		parts = append(parts, "Bring: "+strings.Join(item.WhatToBring, ", "))
	}
	return strings.Join(parts, " | ")
}

// GET /api/itineraries/:id/export.ics
func (h *Handlers) ExportICS(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	rec, _, ok := h.load(w, r, ps.ByName("id"))
	if !ok {
		return
	}
	body := Calendar(models.FromRecord(rec, ""), time.Now())

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename=itinerary-"+rec.ItineraryID+".ics")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(body))
}

// GET /api/itineraries/:id/export.pdf
func (h *Handlers) ExportPDF(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	rec, _, ok := h.load(w, r, ps.ByName("id"))
	if !ok {
		return
	}
	doc := models.FromRecord(rec, h.ShareBase)
	data, err := PDF(doc, lo.Ternary(rec.IsPublic, doc.ShareURL, ""))
	if err != nil {
		log.Printf("[Itinerary] pdf for %s: %v", rec.ItineraryID, err)
		http.Error(w, "Failed to generate PDF", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", "attachment; filename=itinerary-"+rec.ItineraryID+".pdf")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// GET /api/itineraries/:id/share.png
func (h *Handlers) ShareQRCode(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	rec, _, ok := h.load(w, r, ps.ByName("id"))
	if !ok {
		return
	}
	if rec.ShareToken == "" || !rec.IsPublic {
		http.Error(w, "Itinerary is not shared", http.StatusNotFound)
		return
	}
	png, err := QRCode(models.ShareURL(h.ShareBase, rec.ShareToken), 256)
	if err != nil {
		http.Error(w, "Failed to generate QR code", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}
