package store

import "github.com/BTreeMap/MedBay/internal/models"

// DefaultVaccinationSchedule is the national immunization schedule used to seed new
// databases and the in-memory store. Ages are in weeks from birth.
var DefaultVaccinationSchedule = []models.VaccinationSchedule{
	{VaccineName: "BCG", Description: "Protects against tuberculosis. Given at birth or as early as possible until one year of age.", AgeDueInWeeks: 0},
	{VaccineName: "Hepatitis B (birth dose)", Description: "Protects against hepatitis B. Given within 24 hours of birth.", AgeDueInWeeks: 0},
	{VaccineName: "OPV-0", Description: "Oral polio vaccine zero dose, given at birth or within the first 15 days.", AgeDueInWeeks: 0},
	{VaccineName: "OPV-1", Description: "First dose of oral polio vaccine.", AgeDueInWeeks: 6},
	{VaccineName: "Pentavalent-1", Description: "First dose protecting against diphtheria, pertussis, tetanus, hepatitis B and Hib.", AgeDueInWeeks: 6},
	{VaccineName: "Rotavirus-1", Description: "First dose protecting against rotavirus diarrhoea.", AgeDueInWeeks: 6},
	{VaccineName: "fIPV-1", Description: "First fractional dose of inactivated polio vaccine.", AgeDueInWeeks: 6},
	{VaccineName: "PCV-1", Description: "First dose of pneumococcal conjugate vaccine against pneumonia.", AgeDueInWeeks: 6},
	{VaccineName: "OPV-2", Description: "Second dose of oral polio vaccine.", AgeDueInWeeks: 10},
	{VaccineName: "Pentavalent-2", Description: "Second pentavalent dose.", AgeDueInWeeks: 10},
	{VaccineName: "Rotavirus-2", Description: "Second rotavirus dose.", AgeDueInWeeks: 10},
	{VaccineName: "OPV-3", Description: "Third dose of oral polio vaccine.", AgeDueInWeeks: 14},
	{VaccineName: "Pentavalent-3", Description: "Third pentavalent dose.", AgeDueInWeeks: 14},
	{VaccineName: "Rotavirus-3", Description: "Third rotavirus dose.", AgeDueInWeeks: 14},
	{VaccineName: "fIPV-2", Description: "Second fractional dose of inactivated polio vaccine.", AgeDueInWeeks: 14},
	{VaccineName: "PCV-2", Description: "Second pneumococcal conjugate dose.", AgeDueInWeeks: 14},
	{VaccineName: "MR-1", Description: "First dose protecting against measles and rubella, given at 9-12 months.", AgeDueInWeeks: 36},
	{VaccineName: "JE-1", Description: "First Japanese encephalitis dose in endemic districts, given at 9-12 months.", AgeDueInWeeks: 36},
	{VaccineName: "PCV Booster", Description: "Pneumococcal conjugate booster, given at 9 months.", AgeDueInWeeks: 36},
	{VaccineName: "Vitamin A (1st dose)", Description: "First vitamin A supplement, given with MR-1.", AgeDueInWeeks: 36},
	{VaccineName: "MR-2", Description: "Second measles and rubella dose, given at 16-24 months.", AgeDueInWeeks: 69},
	{VaccineName: "JE-2", Description: "Second Japanese encephalitis dose in endemic districts.", AgeDueInWeeks: 69},
	{VaccineName: "DPT Booster-1", Description: "First booster against diphtheria, pertussis and tetanus, given at 16-24 months.", AgeDueInWeeks: 69},
	{VaccineName: "OPV Booster", Description: "Oral polio booster, given at 16-24 months.", AgeDueInWeeks: 69},
	{VaccineName: "DPT Booster-2", Description: "Second DPT booster, given at 5-6 years.", AgeDueInWeeks: 260},
	{VaccineName: "Td (10 years)", Description: "Tetanus and adult diphtheria vaccine at 10 years.", AgeDueInWeeks: 520},
	{VaccineName: "Td (16 years)", Description: "Tetanus and adult diphtheria vaccine at 16 years.", AgeDueInWeeks: 832},
}
